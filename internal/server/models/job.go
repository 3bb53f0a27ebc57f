package models

import "time"

// JobStatus is the queue-level status of an EnrichmentJob.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
)

// EnrichmentJob is a durable request to transcribe one MediaFile.
type EnrichmentJob struct {
	ID          string
	MediaFileID string
	StorageKey  string
	MimeType    string
	Status      JobStatus
	// Attempts counts how many times the job was picked, including the current run.
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	LockedUntil *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
