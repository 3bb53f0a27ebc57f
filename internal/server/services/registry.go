package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/blobstore"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/repomanager"
)

// RegistryOptions configure RegistryService.
type RegistryOptions struct {
	// DefaultLanguage is stored when the engine reports no language.
	DefaultLanguage string
	MaxAttempts     int
	// PresignTTL is the lifetime of presigned file URLs.
	PresignTTL time.Duration
}

// RegistryService is the authoritative view of media files, their
// transcriptions and enrichment state.
type RegistryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	opts        RegistryOptions
	waker       Waker
	log         logging.Logger
}

func NewRegistryService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, opts RegistryOptions, log logging.Logger) *RegistryService {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RegistryService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		opts:        opts,
		log:         log.With("module", "registry"),
	}
}

// SetWaker registers the component nudged after a re-enrichment request.
func (s *RegistryService) SetWaker(w Waker) { s.waker = w }

// RegisterEntry records that entryID exists and belongs to p. Registering an
// entry of another user fails with common.ErrEntryNotFound.
func (s *RegistryService) RegisterEntry(ctx context.Context, p models.Principal, entryID string) error {
	if p.UserID == "" {
		return common.ErrorUnauthorized
	}
	entries := s.repomanager.Entries(s.db)
	if err := entries.Create(ctx, &models.Entry{ID: entryID, UserID: p.UserID}); err != nil {
		return err
	}
	owner, err := entries.GetOwner(ctx, entryID)
	if err != nil {
		return err
	}
	if owner != p.UserID {
		return common.ErrEntryNotFound
	}
	return nil
}

// GetMedia returns media id if it belongs to p.
func (s *RegistryService) GetMedia(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error) {
	if p.UserID == "" {
		return nil, common.ErrorUnauthorized
	}
	return s.repomanager.MediaFiles(s.db).GetForUser(ctx, id, p.UserID)
}

// ListEntryMedia returns the media of an entry owned by p.
func (s *RegistryService) ListEntryMedia(ctx context.Context, p models.Principal, entryID string) ([]*models.MediaFile, error) {
	if err := s.checkOwner(ctx, p, entryID); err != nil {
		return nil, err
	}
	return s.repomanager.MediaFiles(s.db).ListByEntry(ctx, entryID)
}

// GetTranscription returns the transcript of media id together with the
// media itself. While the media is not in state succeeded the transcript is
// reported as common.ErrorNotFound and the media is still returned, so
// callers can tell "pending" from "failed".
func (s *RegistryService) GetTranscription(ctx context.Context, p models.Principal, id string) (*models.Transcription, *models.MediaFile, error) {
	media, err := s.GetMedia(ctx, p, id)
	if err != nil {
		return nil, nil, err
	}
	if media.Kind != models.MediaKindAudio {
		return nil, media, common.ErrNotEnrichable
	}
	if media.EnrichmentState != models.EnrichmentSucceeded {
		return nil, media, common.ErrorNotFound
	}
	t, err := s.repomanager.Transcriptions(s.db).GetByMediaFile(ctx, id)
	if err != nil {
		return nil, media, err
	}
	return t, media, nil
}

// MediaExists reports whether media id is still registered.
func (s *RegistryService) MediaExists(ctx context.Context, id string) (bool, error) {
	return s.repomanager.MediaFiles(s.db).Exists(ctx, id)
}

// MarkEnriched records the outcome of an enrichment attempt.
//
// The media row is locked for the duration of the transaction, so state and
// transcript change together. A successful result overwrites any previous
// transcript; a failed result removes it. Calling MarkEnriched for media
// that no longer exists is a no-op and reports applied=false. Non-audio
// media yields common.ErrNotEnrichable.
func (s *RegistryService) MarkEnriched(ctx context.Context, id string, res models.EnrichmentResult) (applied bool, err error) {
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		mediaRepo := s.repomanager.MediaFiles(tx)
		transcripts := s.repomanager.Transcriptions(tx)

		media, err := mediaRepo.GetForUpdate(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if media.Kind != models.MediaKindAudio {
			return common.ErrNotEnrichable
		}

		if !res.Succeeded {
			if err := transcripts.DeleteByMediaFile(ctx, id); err != nil {
				return err
			}
			if err := mediaRepo.SetEnrichment(ctx, id, models.EnrichmentFailed, nil); err != nil {
				return err
			}
			applied = true
			return nil
		}

		lang := res.Language
		if lang == "" {
			lang = s.opts.DefaultLanguage
		}
		if err := transcripts.Upsert(ctx, &models.Transcription{
			ID:          newID(),
			MediaFileID: id,
			Text:        res.Text,
			Confidence:  confidencePercent(res.Confidence),
			Language:    lang,
		}); err != nil {
			return err
		}
		if err := mediaRepo.SetEnrichment(ctx, id, models.EnrichmentSucceeded, res.DurationSeconds); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark enriched %s: %w", id, err)
	}
	return applied, nil
}

// RequestReenrichment queues another transcription of audio media id.
// Allowed from failed and succeeded; pending media is already queued and
// yields common.ErrInvalidTransition.
func (s *RegistryService) RequestReenrichment(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error) {
	if _, err := s.GetMedia(ctx, p, id); err != nil {
		return nil, err
	}

	var media *models.MediaFile
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		mediaRepo := s.repomanager.MediaFiles(tx)

		m, err := mediaRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if m.Kind != models.MediaKindAudio {
			return common.ErrNotEnrichable
		}
		if m.EnrichmentState == models.EnrichmentPending {
			return common.ErrInvalidTransition
		}
		// A job can outlive its verdict when completing it failed.
		open, err := s.repomanager.Jobs(tx).HasOpen(ctx, id)
		if err != nil {
			return err
		}
		if open {
			return common.ErrInvalidTransition
		}

		if err := s.repomanager.Transcriptions(tx).DeleteByMediaFile(ctx, id); err != nil {
			return err
		}
		if err := mediaRepo.SetEnrichment(ctx, id, models.EnrichmentPending, nil); err != nil {
			return err
		}
		if err := s.repomanager.Jobs(tx).Enqueue(ctx, &models.EnrichmentJob{
			ID:          newID(),
			MediaFileID: id,
			StorageKey:  m.StorageKey,
			MimeType:    m.MimeType,
			MaxAttempts: s.opts.MaxAttempts,
		}); err != nil {
			return err
		}
		m.EnrichmentState = models.EnrichmentPending
		media = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "re-enrichment requested", "media_id", id)
	if s.waker != nil {
		s.waker.Wake()
	}
	return media, nil
}

// DeleteMedia removes media id of p together with its transcript and jobs,
// then deletes the blob. Blob deletion failures are logged only.
func (s *RegistryService) DeleteMedia(ctx context.Context, p models.Principal, id string) error {
	media, err := s.GetMedia(ctx, p, id)
	if err != nil {
		return err
	}
	if _, err := s.repomanager.MediaFiles(s.db).Delete(ctx, id); err != nil {
		return err
	}
	s.deleteBlobs(ctx, media.StorageKey)
	s.log.Info(ctx, "media deleted", "media_id", id)
	return nil
}

// DeleteEntry handles an entry deletion requested by p.
func (s *RegistryService) DeleteEntry(ctx context.Context, p models.Principal, entryID string) error {
	if err := s.checkOwner(ctx, p, entryID); err != nil {
		return err
	}
	return s.EntryDeleted(ctx, entryID)
}

// EntryDeleted removes entryID and, by cascade, all of its media,
// transcripts and pending jobs, then deletes the blobs. In-flight
// enrichment of those media turns into a no-op at MarkEnriched.
func (s *RegistryService) EntryDeleted(ctx context.Context, entryID string) error {
	var keys []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// Uploads racing the delete either land before the lock, and their
		// keys are collected, or fail on the foreign key after it.
		if _, err := s.repomanager.Entries(tx).GetOwnerForUpdate(ctx, entryID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			return err
		}
		var err error
		keys, err = s.repomanager.MediaFiles(tx).StorageKeysByEntry(ctx, entryID)
		if err != nil {
			return err
		}
		_, err = s.repomanager.Entries(tx).Delete(ctx, entryID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", entryID, err)
	}
	s.deleteBlobs(ctx, keys...)
	s.log.Info(ctx, "entry deleted", "entry_id", entryID, "media_count", len(keys))
	return nil
}

// OpenBlob streams the blob stored under key.
func (s *RegistryService) OpenBlob(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.blobs.Open(ctx, key)
}

// PresignBlob returns a direct download URL when the blob store supports
// presigning; ok is false otherwise.
func (s *RegistryService) PresignBlob(ctx context.Context, key string) (url string, ok bool, err error) {
	ps, isPresigner := s.blobs.(blobstore.Presigner)
	if !isPresigner {
		return "", false, nil
	}
	url, err = ps.PresignGet(ctx, key, s.opts.PresignTTL)
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

func (s *RegistryService) checkOwner(ctx context.Context, p models.Principal, entryID string) error {
	if p.UserID == "" {
		return common.ErrorUnauthorized
	}
	owner, err := s.repomanager.Entries(s.db).GetOwner(ctx, entryID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	if owner != p.UserID {
		return common.ErrEntryNotFound
	}
	return nil
}

func (s *RegistryService) deleteBlobs(ctx context.Context, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.log.Error(ctx, "blob delete failed", "storage_key", k, "error", err)
		}
	}
}

// confidencePercent maps 0..1 to an integer percentage.
func confidencePercent(c *float64) *int {
	if c == nil || math.IsNaN(*c) {
		return nil
	}
	v := int(math.Round(math.Max(0, math.Min(1, *c)) * 100))
	return &v
}
