// Package models defines server-side data models persisted in the database.
package models

import "time"

// Entry is the pipeline's view of a diary entry: only identity and owner.
type Entry struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// Principal identifies the caller on whose behalf an operation runs.
// It is passed explicitly to every user-facing service method.
type Principal struct {
	UserID string
}
