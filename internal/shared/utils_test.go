package shared

import (
	"encoding/hex"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- MakeRandHexString ----------

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

// ---------- NewStorageKey ----------

func TestNewStorageKey_Format(t *testing.T) {
	orig := now
	t.Cleanup(func() { now = orig })
	now = func() time.Time { return time.UnixMilli(1700000000123) }

	key, err := NewStorageKey("Voice Note.WEBM", ".bin")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^1700000000123-[0-9a-f]{16}\.webm$`), key)
}

func TestNewStorageKey_FallbackExtension(t *testing.T) {
	tests := []struct {
		name     string
		original string
		fallback string
		wantExt  string
	}{
		{name: "no extension", original: "recording", fallback: ".webm", wantExt: ".webm"},
		{name: "weird extension", original: "photo.p*g", fallback: ".png", wantExt: ".png"},
		{name: "path traversal in name", original: "../../etc/passwd", fallback: ".bin", wantExt: ".bin"},
		{name: "empty fallback", original: "noext", fallback: "", wantExt: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewStorageKey(tt.original, tt.fallback)
			require.NoError(t, err)
			assert.Regexp(t, regexp.MustCompile(`^\d+-[0-9a-f]{16}`+regexp.QuoteMeta(tt.wantExt)+`$`), key)
		})
	}
}

func TestNewStorageKey_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		key, err := NewStorageKey("a.mp3", "")
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}
