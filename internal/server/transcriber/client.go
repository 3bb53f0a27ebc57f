// Package transcriber talks to speech-to-text engines.
//
// A Client performs exactly one attempt per call and classifies failures as
// transient or permanent; retry policy belongs to the caller.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Audio is one recording to transcribe. Body is consumed by Transcribe.
type Audio struct {
	Name     string
	MimeType string
	Body     io.Reader
}

// Result is a successful transcription. Text may be empty.
type Result struct {
	Text string
	// DurationSeconds is nil when the engine does not report it.
	DurationSeconds *float64
	// Language is an ISO-639-1 code, or "" when unknown.
	Language string
	// Confidence in 0..1, nil when unknown.
	Confidence *float64
}

// Client transcribes audio.
type Client interface {
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

// Kind classifies a failed attempt.
type Kind int

const (
	// Transient failures may succeed when retried later.
	Transient Kind = iota + 1
	// Permanent failures will fail again with the same input.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is returned by Client implementations for every failed attempt.
type Error struct {
	Kind Kind
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("http %d: %s", e.StatusCode, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("transcription %s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("transcription %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func transient(status int, msg string, err error) *Error {
	return &Error{Kind: Transient, StatusCode: status, Msg: msg, Err: err}
}

func permanent(status int, msg string, err error) *Error {
	return &Error{Kind: Permanent, StatusCode: status, Msg: msg, Err: err}
}

// IsTransient reports whether err carries a transient *Error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Transient
}

// IsPermanent reports whether err carries a permanent *Error. Errors that are
// not *Error are treated as neither.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == Permanent
}
