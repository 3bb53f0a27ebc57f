package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/entries"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/mediafiles"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/transcriptions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Entries(db dbx.DBTX) entries.Repository
	MediaFiles(db dbx.DBTX) mediafiles.Repository
	Transcriptions(db dbx.DBTX) transcriptions.Repository
	Jobs(db dbx.DBTX) jobs.Repository
}
