package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envFiles are loaded (if present) before reading the environment.
// godotenv never overrides variables that are already set.
var envFiles = []string{".env"}

// parseEnv overlays values from DIARY_* environment variables. The
// conventional OPENAI_API_KEY and DATABASE_URL are honoured as well, with
// the DIARY_ names taking precedence. Unparsable numbers are ignored.
func parseEnv(config *Config) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	envString(&config.DatabaseDSN, "DATABASE_URL")
	envString(&config.TranscriptionAPIKey, "OPENAI_API_KEY")

	envString(&config.HTTPAddr, "DIARY_HTTP_ADDR")
	envString(&config.DatabaseDSN, "DIARY_DATABASE_DSN")
	envString(&config.SecretKey, "DIARY_SECRET_KEY")
	envString(&config.LogLevel, "DIARY_LOG_LEVEL")
	envString(&config.PublicBaseURL, "DIARY_PUBLIC_BASE_URL")
	if v, ok := lookupInt("DIARY_MAX_UPLOAD_BYTES"); ok {
		config.MaxUploadBytes = int64(v)
	}
	if v, ok := os.LookupEnv("DIARY_CORS_ORIGINS"); ok && v != "" {
		config.CORSOrigins = splitList(v)
	}

	envString(&config.BlobBackend, "DIARY_BLOB_BACKEND")
	envString(&config.LocalBlobDir, "DIARY_LOCAL_BLOB_DIR")
	envString(&config.S3RootUser, "DIARY_S3_ROOT_USER")
	envString(&config.S3RootPassword, "DIARY_S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "DIARY_S3_BUCKET")
	envString(&config.S3Region, "DIARY_S3_REGION")
	envString(&config.S3BaseEndpoint, "DIARY_S3_BASE_ENDPOINT")
	envDuration(&config.PresignTTL, "DIARY_PRESIGN_TTL")

	envString(&config.TranscriptionEngine, "DIARY_TRANSCRIPTION_ENGINE")
	envString(&config.TranscriptionBaseURL, "DIARY_TRANSCRIPTION_BASE_URL")
	envString(&config.TranscriptionAPIKey, "DIARY_TRANSCRIPTION_API_KEY")
	envString(&config.TranscriptionModel, "DIARY_TRANSCRIPTION_MODEL")
	envDuration(&config.TranscriptionTimeout, "DIARY_TRANSCRIPTION_TIMEOUT")
	envString(&config.DefaultLanguage, "DIARY_DEFAULT_LANGUAGE")

	envInt(&config.WorkerCount, "DIARY_WORKER_COUNT")
	envDuration(&config.WorkerPollInterval, "DIARY_WORKER_POLL_INTERVAL")
	envDuration(&config.WorkerLease, "DIARY_WORKER_LEASE")
	envInt(&config.MaxAttempts, "DIARY_MAX_ATTEMPTS")
	envDuration(&config.BackoffBase, "DIARY_BACKOFF_BASE")
	envDuration(&config.BackoffCap, "DIARY_BACKOFF_CAP")
	envInt(&config.BackoffJitterPercent, "DIARY_BACKOFF_JITTER_PERCENT")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt(dst *int, key string) {
	if n, ok := lookupInt(key); ok {
		*dst = n
	}
}

func envDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// splitList parses a comma-separated list, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
