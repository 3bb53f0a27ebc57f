package transcriber

import (
	"context"
	"fmt"
	"io"
)

// StubClient returns deterministic transcripts without calling any engine.
// It reads the whole body so callers exercise their streaming path.
type StubClient struct {
	Language string
}

// NewStubClient returns a StubClient reporting language.
func NewStubClient(language string) *StubClient {
	return &StubClient{Language: language}
}

// Transcribe implements Client.
func (c *StubClient) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	n, err := io.Copy(io.Discard, audio.Body)
	if err != nil {
		return nil, transient(0, "read audio", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, transient(0, "canceled", err)
	}
	if n == 0 {
		return nil, permanent(0, "empty audio", nil)
	}
	conf := 0.42
	return &Result{
		Text:       fmt.Sprintf("[stub] %s: %d bytes of %s", audio.Name, n, audio.MimeType),
		Language:   c.Language,
		Confidence: &conf,
	}, nil
}
