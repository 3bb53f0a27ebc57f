package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/flagx"
	"github.com/dmitrijs2005/diarymedia/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk representation of Config. Durations use
// timex.Duration so both "2s" and integer nanoseconds are accepted.
//
// Only fields present (non-zero) in the file override the current values.
type FileConfig struct {
	HTTPAddr       string `json:"http_addr" yaml:"http_addr"`
	DatabaseDSN    string `json:"database_dsn" yaml:"database_dsn"`
	SecretKey      string `json:"secret_key" yaml:"secret_key"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	PublicBaseURL  string `json:"public_base_url" yaml:"public_base_url"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`

	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`

	BlobBackend    string `json:"blob_backend" yaml:"blob_backend"`
	LocalBlobDir   string `json:"local_blob_dir" yaml:"local_blob_dir"`
	S3RootUser     string `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`

	PresignTTL timex.Duration `json:"presign_ttl" yaml:"presign_ttl"`

	TranscriptionEngine  string         `json:"transcription_engine" yaml:"transcription_engine"`
	TranscriptionBaseURL string         `json:"transcription_base_url" yaml:"transcription_base_url"`
	TranscriptionAPIKey  string         `json:"transcription_api_key" yaml:"transcription_api_key"`
	TranscriptionModel   string         `json:"transcription_model" yaml:"transcription_model"`
	TranscriptionTimeout timex.Duration `json:"transcription_timeout" yaml:"transcription_timeout"`
	DefaultLanguage      string         `json:"default_language" yaml:"default_language"`

	WorkerCount          int            `json:"worker_count" yaml:"worker_count"`
	WorkerPollInterval   timex.Duration `json:"worker_poll_interval" yaml:"worker_poll_interval"`
	WorkerLease          timex.Duration `json:"worker_lease" yaml:"worker_lease"`
	MaxAttempts          int            `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase          timex.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap           timex.Duration `json:"backoff_cap" yaml:"backoff_cap"`
	BackoffJitterPercent int            `json:"backoff_jitter_percent" yaml:"backoff_jitter_percent"`
}

// parseFile loads configuration values from the file named by -c/-config
// (or $DIARY_CONFIG) into config. Files ending in .yaml/.yml are decoded as
// YAML, everything else as JSON. A missing or malformed file panics, matching
// the rest of the bootstrap path.
func parseFile(config *Config) {
	path := flagx.ConfigFile()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	if c.MaxUploadBytes != 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = c.CORSOrigins
	}

	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.LocalBlobDir, c.LocalBlobDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setDuration(&config.PresignTTL, c.PresignTTL)

	setString(&config.TranscriptionEngine, c.TranscriptionEngine)
	setString(&config.TranscriptionBaseURL, c.TranscriptionBaseURL)
	setString(&config.TranscriptionAPIKey, c.TranscriptionAPIKey)
	setString(&config.TranscriptionModel, c.TranscriptionModel)
	setDuration(&config.TranscriptionTimeout, c.TranscriptionTimeout)
	setString(&config.DefaultLanguage, c.DefaultLanguage)

	setInt(&config.WorkerCount, c.WorkerCount)
	setDuration(&config.WorkerPollInterval, c.WorkerPollInterval)
	setDuration(&config.WorkerLease, c.WorkerLease)
	setInt(&config.MaxAttempts, c.MaxAttempts)
	setDuration(&config.BackoffBase, c.BackoffBase)
	setDuration(&config.BackoffCap, c.BackoffCap)
	setInt(&config.BackoffJitterPercent, c.BackoffJitterPercent)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
