// Package shared provides small helpers used by more than one server package.
package shared

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MakeRandHexString returns size random bytes encoded as hex (2*size chars).
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// now is a seam for tests.
var now = time.Now

// NewStorageKey builds a blob key of the form {unixMillis}-{random}{ext}.
//
// The extension is taken from originalName (lower-cased); fallbackExt is used
// when the name carries none. The timestamp keeps keys human-sortable while
// the random suffix prevents collisions between uploads in the same millisecond.
func NewStorageKey(originalName, fallbackExt string) (string, error) {
	suffix, err := MakeRandHexString(8)
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !isSafeExt(ext) {
		ext = strings.ToLower(fallbackExt)
	}

	return fmt.Sprintf("%d-%s%s", now().UnixMilli(), suffix, ext), nil
}

func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
