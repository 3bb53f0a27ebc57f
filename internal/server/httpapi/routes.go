package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Handler builds the router:
//
//	POST   /api/entries/{entryID}                    register entry ownership
//	DELETE /api/entries/{entryID}                    entry deleted
//	DELETE /api/entries/{entryID}/media              entry deleted (alias)
//	POST   /api/entries/{entryID}/media              upload
//	GET    /api/entries/{entryID}/media              list
//	GET    /api/media/{id}                           media file
//	DELETE /api/media/{id}                           delete media
//	GET    /api/media/{id}/transcription             transcript
//	POST   /api/media/{id}/transcription/retry       re-enrich
//	GET    /files/{key}                              public blob
//	GET    /healthz, /metrics
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/files/{key}", s.handleFile).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)

	api.HandleFunc("/entries/{entryID}", s.handleRegisterEntry).Methods(http.MethodPost, http.MethodPut)
	api.HandleFunc("/entries/{entryID}", s.handleDeleteEntry).Methods(http.MethodDelete)
	api.HandleFunc("/entries/{entryID}/media", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/entries/{entryID}/media", s.handleListMedia).Methods(http.MethodGet)
	api.HandleFunc("/entries/{entryID}/media", s.handleDeleteEntry).Methods(http.MethodDelete)

	api.HandleFunc("/media/{id}", s.handleGetMedia).Methods(http.MethodGet)
	api.HandleFunc("/media/{id}", s.handleDeleteMedia).Methods(http.MethodDelete)
	api.HandleFunc("/media/{id}/transcription", s.handleGetTranscription).Methods(http.MethodGet)
	api.HandleFunc("/media/{id}/transcription/retry", s.handleRetry).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           600,
	})
	return c.Handler(r)
}
