// Package server wires the media pipeline together: database and
// migrations, blob store, transcription engine, worker pool and HTTP API,
// and runs them until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/blobstore"
	"github.com/dmitrijs2005/diarymedia/internal/server/config"
	"github.com/dmitrijs2005/diarymedia/internal/server/httpapi"
	"github.com/dmitrijs2005/diarymedia/internal/server/metrics"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/diarymedia/internal/server/services"
	"github.com/dmitrijs2005/diarymedia/internal/server/transcriber"
	"github.com/dmitrijs2005/diarymedia/internal/server/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry
	pool     *worker.Pool
	http     *httpapi.Server
}

// NewApp connects to the database, applies migrations and builds every
// component. The returned App owns the database handle.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {
	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("repository manager: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		return nil, err
	}
	engine := newTranscriber(c, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	ingest := services.NewIngestService(db, rm, blobs, services.IngestOptions{
		MaxUploadBytes: c.MaxUploadBytes,
		PublicBaseURL:  c.PublicBaseURL,
		MaxAttempts:    c.MaxAttempts,
	}, logger)
	ingest.SetMetrics(rec)

	registry := services.NewRegistryService(db, rm, blobs, registryOptions(c), logger)

	pool := worker.New(rm.Jobs(db), registry, engine, worker.Options{
		Workers:      c.WorkerCount,
		PollInterval: c.WorkerPollInterval,
		Lease:        c.WorkerLease,
		Backoff: worker.Backoff{
			Base:          c.BackoffBase,
			Cap:           c.BackoffCap,
			JitterPercent: c.BackoffJitterPercent,
		},
		DefaultLanguage: c.DefaultLanguage,
	}, logger)
	pool.SetMetrics(rec)

	ingest.SetWaker(pool)
	registry.SetWaker(pool)

	srv := httpapi.NewServer(httpapi.Options{
		Addr:           c.HTTPAddr,
		SecretKey:      c.SecretKey,
		MaxUploadBytes: c.MaxUploadBytes,
		CORSOrigins:    c.CORSOrigins,
	}, ingest, registry, db, reg, logger)

	return &App{config: c, logger: logger, db: db, registry: reg, pool: pool, http: srv}, nil
}

func registryOptions(c *config.Config) services.RegistryOptions {
	return services.RegistryOptions{
		DefaultLanguage: c.DefaultLanguage,
		MaxAttempts:     c.MaxAttempts,
		PresignTTL:      c.PresignTTL,
	}
}

// newBlobStore picks the configured backend.
func newBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	switch c.BlobBackend {
	case config.BlobBackendLocal:
		s, err := blobstore.NewLocalStore(c.LocalBlobDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return s, nil
	case config.BlobBackendS3:
		s, err := blobstore.NewS3Store(ctx, blobstore.S3Options{
			Endpoint:  c.S3BaseEndpoint,
			Region:    c.S3Region,
			AccessKey: c.S3RootUser,
			SecretKey: c.S3RootPassword,
			Bucket:    c.S3Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

// newTranscriber picks the configured engine.
func newTranscriber(c *config.Config, logger logging.Logger) transcriber.Client {
	if c.TranscriptionEngine == config.EngineStub {
		return transcriber.NewStubClient(c.DefaultLanguage)
	}
	return transcriber.NewOpenAIClient(transcriber.OpenAIConfig{
		BaseURL:  c.TranscriptionBaseURL,
		APIKey:   c.TranscriptionAPIKey,
		Model:    c.TranscriptionModel,
		Language: c.DefaultLanguage,
		Timeout:  c.TranscriptionTimeout,
	}, &http.Client{Timeout: c.TranscriptionTimeout + 5*time.Second}, logger)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then waits for
// in-flight jobs and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.pool.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.WithoutCancel(ctx), "close db", "error", err)
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}
