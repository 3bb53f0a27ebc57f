// Package common defines sentinel errors shared by the repositories, services
// and transport layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Ingestion rejections, raised before anything is written.
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrEntryNotFound        = errors.New("entry not found")

	// Ingestion infrastructure failures.
	ErrBlobWriteFailed     = errors.New("blob write failed")
	ErrRegistryWriteFailed = errors.New("registry write failed")

	// Enrichment errors.
	ErrNotEnrichable     = errors.New("media is not enrichable")
	ErrInvalidTransition = errors.New("invalid enrichment state transition")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
