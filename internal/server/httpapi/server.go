// Package httpapi is the HTTP boundary of the media pipeline: multipart
// uploads, media and transcript reads, the entry lifecycle hooks and the
// public file endpoint.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
)

// Ingester accepts uploads.
type Ingester interface {
	Ingest(ctx context.Context, p models.Principal, req services.IngestRequest) (*models.MediaFile, error)
}

// Registry serves reads and lifecycle operations.
type Registry interface {
	RegisterEntry(ctx context.Context, p models.Principal, entryID string) error
	DeleteEntry(ctx context.Context, p models.Principal, entryID string) error
	GetMedia(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error)
	ListEntryMedia(ctx context.Context, p models.Principal, entryID string) ([]*models.MediaFile, error)
	GetTranscription(ctx context.Context, p models.Principal, id string) (*models.Transcription, *models.MediaFile, error)
	RequestReenrichment(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error)
	DeleteMedia(ctx context.Context, p models.Principal, id string) error
	OpenBlob(ctx context.Context, key string) (io.ReadCloser, error)
	PresignBlob(ctx context.Context, key string) (string, bool, error)
}

// Pinger reports database health. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configure the HTTP server.
type Options struct {
	Addr           string
	SecretKey      string
	MaxUploadBytes int64
	CORSOrigins    []string
}

type Server struct {
	opts     Options
	ingest   Ingester
	registry Registry
	db       Pinger
	gatherer prometheus.Gatherer
	logger   logging.Logger
	jwtKey   []byte
}

func NewServer(opts Options, ingest Ingester, registry Registry, db Pinger, gatherer prometheus.Gatherer, l logging.Logger) *Server {
	if l == nil {
		l = logging.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		opts:     opts,
		ingest:   ingest,
		registry: registry,
		db:       db,
		gatherer: gatherer,
		logger:   l.With("module", "http_server"),
		jwtKey:   []byte(opts.SecretKey),
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(context.WithoutCancel(ctx), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.opts.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
