package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/services"
	"github.com/gorilla/mux"
)

// multipartOverhead is the room left for boundaries and small fields on top
// of the file size limit.
const multipartOverhead = 1 << 20

const maxCaptionBytes = 4 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RegisterEntry(r.Context(), principal(r.Context()), mux.Vars(r)["entryID"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteEntry(r.Context(), principal(r.Context()), mux.Vars(r)["entryID"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload streams the "file" part of a multipart/form-data request into
// the ingestion service. A "caption" field is honoured when it precedes the
// file part.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.MaxUploadBytes
	if limit <= 0 {
		limit = common.DefaultMaxUploadBytes
	}
	if r.ContentLength > limit+multipartOverhead {
		s.writeError(w, r, fmt.Errorf("%w: request of %d bytes", common.ErrPayloadTooLarge, r.ContentLength))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected multipart/form-data"})
		return
	}

	var caption *string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: `missing "file" part`})
			return
		}
		if err != nil {
			s.writeError(w, r, uploadError(err))
			return
		}

		switch part.FormName() {
		case "caption":
			b, err := io.ReadAll(io.LimitReader(part, maxCaptionBytes))
			if err != nil {
				s.writeError(w, r, uploadError(err))
				return
			}
			if c := strings.TrimSpace(string(b)); c != "" {
				caption = &c
			}
		case "file":
			media, err := s.ingest.Ingest(r.Context(), principal(r.Context()), services.IngestRequest{
				EntryID:          mux.Vars(r)["entryID"],
				Body:             part,
				DeclaredMimeType: part.Header.Get("Content-Type"),
				OriginalFilename: filepath.Base(part.FileName()),
				SizeBytes:        -1,
				Caption:          caption,
			})
			if err != nil {
				s.writeError(w, r, uploadError(err))
				return
			}
			writeJSON(w, http.StatusCreated, media)
			return
		}
		_ = part.Close()
	}
}

// uploadError turns a tripped request body limit into ErrPayloadTooLarge.
func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: request exceeds %d bytes", common.ErrPayloadTooLarge, mbe.Limit)
	}
	return err
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListEntryMedia(r.Context(), principal(r.Context()), mux.Vars(r)["entryID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	media, err := s.registry.GetMedia(r.Context(), principal(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, media)
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteMedia(r.Context(), principal(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transcriptionMissing struct {
	Error           string                 `json:"error"`
	EnrichmentState models.EnrichmentState `json:"enrichmentState"`
}

func (s *Server) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	t, media, err := s.registry.GetTranscription(r.Context(), principal(r.Context()), mux.Vars(r)["id"])
	if errors.Is(err, common.ErrorNotFound) && media != nil {
		// The media exists; tell the client whether to keep polling.
		writeJSON(w, http.StatusNotFound, transcriptionMissing{
			Error:           "transcription not available",
			EnrichmentState: media.EnrichmentState,
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	media, err := s.registry.RequestReenrichment(r.Context(), principal(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, media)
}

// handleFile serves a blob by storage key. Keys are unguessable, so the
// endpoint is public like the URL stored on the media file.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	url, ok, err := s.registry.PresignBlob(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	body, err := s.registry.OpenBlob(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()

	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn(r.Context(), "file stream interrupted", "storage_key", key, "error", err)
	}
}
