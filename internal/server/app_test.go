package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/blobstore"
	"github.com/dmitrijs2005/diarymedia/internal/server/config"
	"github.com/dmitrijs2005/diarymedia/internal/server/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.TranscriptionEngine = config.EngineStub
	return c
}

func TestNewBlobStore_Local(t *testing.T) {
	c := testConfig()
	c.BlobBackend = config.BlobBackendLocal
	c.LocalBlobDir = t.TempDir()

	s, err := newBlobStore(context.Background(), c)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.LocalStore{}, s)
}

func TestNewBlobStore_Unknown(t *testing.T) {
	c := testConfig()
	c.BlobBackend = "ftp"

	_, err := newBlobStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestNewTranscriber(t *testing.T) {
	c := testConfig()
	assert.IsType(t, &transcriber.StubClient{}, newTranscriber(c, logging.Nop()))

	c.TranscriptionEngine = config.EngineOpenAI
	c.TranscriptionAPIKey = "sk-test"
	assert.IsType(t, &transcriber.OpenAIClient{}, newTranscriber(c, logging.Nop()))
}

func TestNewApp_InvalidConfigNeverOpensDB(t *testing.T) {
	opened := false
	orig := sqlOpen
	t.Cleanup(func() { sqlOpen = orig })
	sqlOpen = func(string, string) (*sql.DB, error) {
		opened = true
		return nil, nil
	}

	c := testConfig()
	c.MaxAttempts = 0

	_, err := NewApp(context.Background(), c)
	require.Error(t, err)
	assert.False(t, opened)
}

func TestRegistryOptions_FromConfig(t *testing.T) {
	c := testConfig()
	c.PresignTTL = 2 * time.Hour
	c.MaxAttempts = 5
	c.DefaultLanguage = "lv"

	got := registryOptions(c)
	assert.Equal(t, 2*time.Hour, got.PresignTTL)
	assert.Equal(t, 5, got.MaxAttempts)
	assert.Equal(t, "lv", got.DefaultLanguage)
}
