// Package mediatype decides which uploads the pipeline accepts and how they
// are classified.
//
// The supported set is an explicit allow-list; wildcard families such as
// image/* are not accepted as a whole.
package mediatype

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/gabriel-vasile/mimetype"
)

// SniffBytes is how much of the stream is inspected when the declared type
// is missing or unsupported.
const SniffBytes = 3072

type entry struct {
	kind models.MediaKind
	ext  string
}

var supported = map[string]entry{
	"image/jpeg":    {models.MediaKindImage, ".jpg"},
	"image/png":     {models.MediaKindImage, ".png"},
	"image/gif":     {models.MediaKindImage, ".gif"},
	"image/webp":    {models.MediaKindImage, ".webp"},
	"image/bmp":     {models.MediaKindImage, ".bmp"},
	"image/svg+xml": {models.MediaKindImage, ".svg"},

	"video/mp4":       {models.MediaKindVideo, ".mp4"},
	"video/webm":      {models.MediaKindVideo, ".webm"},
	"video/ogg":       {models.MediaKindVideo, ".ogv"},
	"video/quicktime": {models.MediaKindVideo, ".mov"},
	"video/x-msvideo": {models.MediaKindVideo, ".avi"},

	"audio/mpeg":  {models.MediaKindAudio, ".mp3"},
	"audio/mp3":   {models.MediaKindAudio, ".mp3"},
	"audio/wav":   {models.MediaKindAudio, ".wav"},
	"audio/x-wav": {models.MediaKindAudio, ".wav"},
	"audio/wave":  {models.MediaKindAudio, ".wav"},
	"audio/ogg":   {models.MediaKindAudio, ".ogg"},
	"audio/webm":  {models.MediaKindAudio, ".webm"},
	"audio/m4a":   {models.MediaKindAudio, ".m4a"},
	"audio/x-m4a": {models.MediaKindAudio, ".m4a"},
	"audio/mp4":   {models.MediaKindAudio, ".m4a"},
	"audio/aac":   {models.MediaKindAudio, ".aac"},
}

// Normalize lower-cases a MIME type and strips its parameters.
// Unparsable input is returned trimmed and lower-cased.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify returns the kind of a supported MIME type.
func Classify(mimeType string) (models.MediaKind, bool) {
	e, ok := supported[Normalize(mimeType)]
	return e.kind, ok
}

// Extension returns the canonical file extension (with dot) of a supported
// MIME type, or "" when unknown.
func Extension(mimeType string) string {
	return supported[Normalize(mimeType)].ext
}

// Detected is the outcome of Resolve.
type Detected struct {
	MimeType string
	Kind     models.MediaKind
	// Sniffed is true when the type came from content inspection.
	Sniffed bool
}

// Resolve picks the MIME type of an upload. A supported declared type wins;
// otherwise the first SniffBytes of body are inspected, walking up the
// detected type's parents until a supported one is found.
//
// The returned reader yields the complete original stream, including any
// sniffed prefix. Unsupported content fails with common.ErrUnsupportedMediaType.
func Resolve(declared string, body io.Reader) (Detected, io.Reader, error) {
	if mt := Normalize(declared); mt != "" {
		if kind, ok := Classify(mt); ok {
			return Detected{MimeType: mt, Kind: kind}, body, nil
		}
	}

	head := make([]byte, SniffBytes)
	n, err := io.ReadFull(body, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Detected{}, nil, fmt.Errorf("sniff upload: %w", err)
	}
	head = head[:n]
	rest := io.MultiReader(bytes.NewReader(head), body)

	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		mt := Normalize(m.String())
		if kind, ok := Classify(mt); ok {
			return Detected{MimeType: mt, Kind: kind, Sniffed: true}, rest, nil
		}
	}

	if declared == "" {
		return Detected{}, nil, fmt.Errorf("%w: undetectable content", common.ErrUnsupportedMediaType)
	}
	return Detected{}, nil, fmt.Errorf("%w: %s", common.ErrUnsupportedMediaType, Normalize(declared))
}
