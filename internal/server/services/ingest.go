// Package services implements the media pipeline's use cases on top of the
// repositories and the blob store: ingestion and the media registry.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/blobstore"
	"github.com/dmitrijs2005/diarymedia/internal/server/mediatype"
	"github.com/dmitrijs2005/diarymedia/internal/server/metrics"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/diarymedia/internal/shared"
	"github.com/google/uuid"
)

var newID = uuid.NewString

// Waker is notified after new enrichment work was committed.
type Waker interface {
	Wake()
}

// IngestRequest is one upload handed over by the transport layer.
type IngestRequest struct {
	EntryID string
	Body    io.Reader
	// DeclaredMimeType is the client-supplied Content-Type; may be empty.
	DeclaredMimeType string
	OriginalFilename string
	// SizeBytes is the client-declared size; negative when unknown.
	SizeBytes int64
	Caption   *string
}

// IngestOptions are the ingestion limits.
type IngestOptions struct {
	MaxUploadBytes int64
	// PublicBaseURL prefixes the /files/{key} URL stored on each media file.
	PublicBaseURL string
	MaxAttempts   int
}

// IngestService accepts uploads, stores their bytes and registers them.
type IngestService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	opts        IngestOptions
	waker       Waker
	metrics     *metrics.Recorder
	log         logging.Logger
}

func NewIngestService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, opts IngestOptions, log logging.Logger) *IngestService {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = common.DefaultMaxUploadBytes
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	if log == nil {
		log = logging.Nop()
	}
	return &IngestService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		opts:        opts,
		log:         log.With("module", "ingest"),
	}
}

// SetWaker registers the component nudged after an audio upload commits.
func (s *IngestService) SetWaker(w Waker) { s.waker = w }

// SetMetrics attaches a metrics recorder.
func (s *IngestService) SetMetrics(m *metrics.Recorder) { s.metrics = m }

// Ingest validates an upload, writes it to the blob store and registers it.
//
// Rejections happen before anything is written, in this order: size
// (common.ErrPayloadTooLarge), type (common.ErrUnsupportedMediaType), entry
// ownership (common.ErrEntryNotFound). Storage failures are reported as
// common.ErrBlobWriteFailed or common.ErrRegistryWriteFailed; in the latter
// case the stored blob is removed again.
//
// Audio media is returned in state pending with an enrichment job queued in
// the same transaction; Ingest never waits for transcription.
func (s *IngestService) Ingest(ctx context.Context, p models.Principal, req IngestRequest) (*models.MediaFile, error) {
	if p.UserID == "" {
		return nil, common.ErrorUnauthorized
	}

	limit := s.opts.MaxUploadBytes
	if req.SizeBytes > limit {
		s.metrics.Rejected("too_large")
		return nil, fmt.Errorf("%w: %d bytes, limit %d", common.ErrPayloadTooLarge, req.SizeBytes, limit)
	}

	detected, body, err := mediatype.Resolve(req.DeclaredMimeType, req.Body)
	if err != nil {
		if errors.Is(err, common.ErrUnsupportedMediaType) {
			s.metrics.Rejected("unsupported_type")
		}
		return nil, err
	}

	if err := s.checkEntry(ctx, p, req.EntryID); err != nil {
		s.metrics.Rejected("entry_not_found")
		return nil, err
	}

	key, err := shared.NewStorageKey(req.OriginalFilename, mediatype.Extension(detected.MimeType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBlobWriteFailed, err)
	}

	counter := &countingReader{r: io.LimitReader(body, limit+1)}
	if err := s.blobs.Put(ctx, key, counter, detected.MimeType); err != nil {
		s.metrics.Rejected("blob_write")
		return nil, fmt.Errorf("%w: %w", common.ErrBlobWriteFailed, err)
	}
	if counter.n > limit {
		s.compensate(ctx, key)
		s.metrics.Rejected("too_large")
		return nil, fmt.Errorf("%w: stream exceeds limit %d", common.ErrPayloadTooLarge, limit)
	}

	file := &models.MediaFile{
		ID:              newID(),
		EntryID:         req.EntryID,
		StorageKey:      key,
		URL:             s.opts.PublicBaseURL + "/files/" + key,
		OriginalName:    req.OriginalFilename,
		MimeType:        detected.MimeType,
		Kind:            detected.Kind,
		SizeBytes:       counter.n,
		Caption:         req.Caption,
		EnrichmentState: models.InitialEnrichmentState(detected.Kind),
	}
	if file.OriginalName == "" {
		file.OriginalName = key
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.MediaFiles(tx).Create(ctx, file); err != nil {
			return err
		}
		if file.Kind != models.MediaKindAudio {
			return nil
		}
		return s.repomanager.Jobs(tx).Enqueue(ctx, &models.EnrichmentJob{
			ID:          newID(),
			MediaFileID: file.ID,
			StorageKey:  file.StorageKey,
			MimeType:    file.MimeType,
			MaxAttempts: s.opts.MaxAttempts,
		})
	})
	if err != nil {
		s.compensate(ctx, key)
		s.metrics.Rejected("registry_write")
		return nil, fmt.Errorf("%w: %v", common.ErrRegistryWriteFailed, err)
	}

	s.metrics.Ingested(string(file.Kind))
	s.log.Info(ctx, "media ingested",
		"media_id", file.ID, "entry_id", file.EntryID, "kind", file.Kind,
		"mime_type", file.MimeType, "size_bytes", file.SizeBytes, "sniffed", detected.Sniffed)

	if file.Kind == models.MediaKindAudio && s.waker != nil {
		s.waker.Wake()
	}
	return file, nil
}

func (s *IngestService) checkEntry(ctx context.Context, p models.Principal, entryID string) error {
	if entryID == "" {
		return common.ErrEntryNotFound
	}
	owner, err := s.repomanager.Entries(s.db).GetOwner(ctx, entryID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup entry: %w", err)
	}
	if owner != p.UserID {
		return common.ErrEntryNotFound
	}
	return nil
}

// compensate removes a blob whose registration did not happen. Failures are
// only logged; the caller already reports the original error.
func (s *IngestService) compensate(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Error(ctx, "compensating blob delete failed", "storage_key", key, "error", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
