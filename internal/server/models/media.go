package models

import (
	"time"
)

// MediaKind is the coarse category derived from a MIME type.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// EnrichmentState tracks transcription progress of a MediaFile.
//
// Non-audio media is always EnrichmentNotApplicable. Audio starts
// EnrichmentPending and ends in EnrichmentSucceeded or EnrichmentFailed; a
// re-enrichment request moves it back to EnrichmentPending.
type EnrichmentState string

const (
	EnrichmentNotApplicable EnrichmentState = "not_applicable"
	EnrichmentPending       EnrichmentState = "pending"
	EnrichmentSucceeded     EnrichmentState = "succeeded"
	EnrichmentFailed        EnrichmentState = "failed"
)

// InitialEnrichmentState returns the state a freshly ingested file of kind starts in.
func InitialEnrichmentState(kind MediaKind) EnrichmentState {
	if kind == MediaKindAudio {
		return EnrichmentPending
	}
	return EnrichmentNotApplicable
}

// MediaFile is the registry record of an uploaded blob.
type MediaFile struct {
	ID      string `json:"id"`
	EntryID string `json:"entryId"`

	// StorageKey is the opaque blob store key, never reused.
	StorageKey string `json:"storageKey"`
	// URL is the public address the blob is served from.
	URL string `json:"url"`

	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Kind         MediaKind `json:"kind"`
	SizeBytes    int64     `json:"sizeBytes"`

	// DurationSeconds is null until the transcription engine reports it.
	DurationSeconds *float64 `json:"durationSeconds"`
	Caption         *string  `json:"caption,omitempty"`

	EnrichmentState EnrichmentState `json:"enrichmentState"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Transcription is the recognized text of an audio MediaFile. At most one
// exists per file, and only while the file is EnrichmentSucceeded.
type Transcription struct {
	ID          string `json:"id"`
	MediaFileID string `json:"mediaFileId"`
	Text        string `json:"text"`
	// Confidence is a percentage in 0..100, null when the engine reports none.
	Confidence *int      `json:"confidence"`
	Language   string    `json:"language"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EnrichmentResult is the outcome the worker hands to the registry.
// Text, Language, Confidence and DurationSeconds are only read when
// Succeeded is true.
type EnrichmentResult struct {
	Succeeded       bool
	Text            string
	DurationSeconds *float64
	Language        string
	// Confidence in 0..1.
	Confidence *float64
}
