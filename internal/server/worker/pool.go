// Package worker runs the enrichment pipeline: a pool of goroutines that
// claim jobs from the durable queue, stream the audio blob to the
// transcription engine and record the outcome in the registry.
//
// Delivery is at-least-once. A job that is picked again after a crash is
// simply transcribed again; the registry write is last-writer-wins.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/logging"
	"github.com/dmitrijs2005/diarymedia/internal/server/metrics"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/transcriber"
)

// Queue is the part of the job repository the pool needs.
type Queue interface {
	PickNext(ctx context.Context, lease time.Duration) (*models.EnrichmentJob, error)
	Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error
	Complete(ctx context.Context, id string, lastError *string) error
	OldestDueAge(ctx context.Context) (time.Duration, error)
}

// Registry is the part of the media registry the pool needs.
type Registry interface {
	MediaExists(ctx context.Context, id string) (bool, error)
	OpenBlob(ctx context.Context, key string) (io.ReadCloser, error)
	MarkEnriched(ctx context.Context, id string, res models.EnrichmentResult) (bool, error)
}

// Options configure a Pool.
type Options struct {
	Workers      int
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible to other workers.
	Lease   time.Duration
	Backoff Backoff
	// DefaultLanguage is recorded when the engine reports none.
	DefaultLanguage string
}

var now = time.Now

// Pool consumes enrichment jobs.
type Pool struct {
	queue    Queue
	registry Registry
	engine   transcriber.Client
	opts     Options
	wake     chan struct{}
	metrics  *metrics.Recorder
	log      logging.Logger
}

func New(q Queue, reg Registry, engine transcriber.Client, opts Options, log logging.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * transcriber.DefaultTimeout
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{
		queue:    q,
		registry: reg,
		engine:   engine,
		opts:     opts,
		wake:     make(chan struct{}, 1),
		log:      log.With("module", "worker"),
	}
}

// SetMetrics attaches a metrics recorder.
func (p *Pool) SetMetrics(m *metrics.Recorder) { p.metrics = m }

// Wake lets an idle worker poll immediately. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is canceled and every worker
// has finished its current job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.watchLag(ctx)
	}()

	p.log.Info(ctx, "worker pool started", "workers", p.opts.Workers)
	wg.Wait()
	p.log.Info(context.WithoutCancel(ctx), "worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is due before sleeping again.
		for ctx.Err() == nil {
			processed, err := p.ProcessNext(ctx)
			if err != nil && ctx.Err() == nil {
				p.log.Error(ctx, "poll failed", "worker", id, "error", err)
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *Pool) watchLag(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lag, err := p.queue.OldestDueAge(ctx)
			if err != nil {
				p.log.Warn(ctx, "queue lag check failed", "error", err)
				continue
			}
			p.metrics.QueueLag(lag)
		}
	}
}

// ProcessNext claims and handles at most one job. It reports whether a job
// was claimed.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.queue.PickNext(ctx, p.opts.Lease)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.handle(ctx, job)
	return true, nil
}

func (p *Pool) handle(ctx context.Context, job *models.EnrichmentJob) {
	log := p.log.With("job_id", job.ID, "media_id", job.MediaFileID, "attempt", job.Attempts)

	// A job re-picked after a lease expiry may already be over budget.
	if job.Attempts > job.MaxAttempts {
		p.metrics.Attempt(metrics.OutcomeExhausted)
		p.fail(ctx, log, job, "attempts exhausted")
		return
	}

	exists, err := p.registry.MediaExists(ctx, job.MediaFileID)
	if err != nil {
		p.metrics.Attempt(metrics.OutcomeError)
		p.retryOrFail(ctx, log, job, fmt.Errorf("check media: %w", err))
		return
	}
	if !exists {
		p.metrics.Attempt(metrics.OutcomeCanceled)
		log.Info(ctx, "media deleted, dropping job")
		p.complete(ctx, log, job, "media deleted")
		return
	}

	blob, err := p.registry.OpenBlob(ctx, job.StorageKey)
	if errors.Is(err, common.ErrorNotFound) {
		p.metrics.Attempt(metrics.OutcomePermanent)
		p.fail(ctx, log, job, "blob missing")
		return
	}
	if err != nil {
		p.metrics.Attempt(metrics.OutcomeError)
		p.retryOrFail(ctx, log, job, fmt.Errorf("open blob: %w", err))
		return
	}

	started := time.Now()
	res, err := p.engine.Transcribe(ctx, transcriber.Audio{
		Name:     job.StorageKey,
		MimeType: job.MimeType,
		Body:     blob,
	})
	_ = blob.Close()
	p.metrics.TranscriptionLatency(time.Since(started))

	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown. Put the job back so the next process picks it up
		// right away instead of after the lease.
		p.metrics.Attempt(metrics.OutcomeCanceled)
		p.reschedule(ctx, log, job, now(), "interrupted by shutdown")
		return
	case transcriber.IsPermanent(err):
		p.metrics.Attempt(metrics.OutcomePermanent)
		log.Warn(ctx, "transcription failed permanently", "error", err)
		p.fail(ctx, log, job, err.Error())
		return
	case err != nil:
		p.metrics.Attempt(metrics.OutcomeTransient)
		p.retryOrFail(ctx, log, job, err)
		return
	}

	lang := res.Language
	if lang == "" {
		lang = p.opts.DefaultLanguage
	}
	applied, err := p.registry.MarkEnriched(ctx, job.MediaFileID, models.EnrichmentResult{
		Succeeded:       true,
		Text:            res.Text,
		DurationSeconds: res.DurationSeconds,
		Language:        lang,
		Confidence:      res.Confidence,
	})
	if errors.Is(err, common.ErrNotEnrichable) {
		p.metrics.Attempt(metrics.OutcomePermanent)
		p.complete(ctx, log, job, err.Error())
		return
	}
	if err != nil {
		p.metrics.Attempt(metrics.OutcomeError)
		p.retryOrFail(ctx, log, job, fmt.Errorf("record transcript: %w", err))
		return
	}

	p.metrics.Attempt(metrics.OutcomeSucceeded)
	if !applied {
		log.Info(ctx, "media deleted during transcription, result dropped")
	} else {
		log.Info(ctx, "media enriched", "language", lang, "chars", len(res.Text))
	}
	p.complete(ctx, log, job, "")
}

// retryOrFail reschedules the job with backoff while attempts remain and
// marks the media failed otherwise.
func (p *Pool) retryOrFail(ctx context.Context, log logging.Logger, job *models.EnrichmentJob, cause error) {
	if job.Attempts < job.MaxAttempts {
		delay := p.opts.Backoff.Delay(job.Attempts)
		log.Warn(ctx, "attempt failed, will retry", "error", cause, "retry_in", delay)
		p.reschedule(ctx, log, job, now().Add(delay), cause.Error())
		return
	}
	log.Warn(ctx, "attempts exhausted", "error", cause)
	p.fail(ctx, log, job, cause.Error())
}

// fail records the media as failed and completes the job. If the registry
// write does not go through the job stays leased; it is picked again after
// the lease and lands here once more because its attempts are over budget.
func (p *Pool) fail(ctx context.Context, log logging.Logger, job *models.EnrichmentJob, reason string) {
	_, err := p.registry.MarkEnriched(ctx, job.MediaFileID, models.EnrichmentResult{Succeeded: false})
	if err != nil && !errors.Is(err, common.ErrNotEnrichable) {
		log.Error(ctx, "record failure", "error", err)
		return
	}
	p.complete(ctx, log, job, reason)
}

func (p *Pool) complete(ctx context.Context, log logging.Logger, job *models.EnrichmentJob, reason string) {
	var lastErr *string
	if reason != "" {
		lastErr = &reason
	}
	if err := p.queue.Complete(context.WithoutCancel(ctx), job.ID, lastErr); err != nil {
		log.Error(ctx, "complete job", "error", err)
	}
}

func (p *Pool) reschedule(ctx context.Context, log logging.Logger, job *models.EnrichmentJob, at time.Time, reason string) {
	if err := p.queue.Reschedule(context.WithoutCancel(ctx), job.ID, at, reason); err != nil {
		log.Error(ctx, "reschedule job", "error", err)
	}
}
