package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/dbx"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/entries"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/mediafiles"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/diarymedia/internal/server/repositories/transcriptions"
)

// -------- in-memory registry --------

type memState struct {
	mu          sync.Mutex
	owners      map[string]string
	media       map[string]*models.MediaFile
	transcripts map[string]*models.Transcription
	jobs        []*models.EnrichmentJob

	createErr  error
	enqueueErr error
}

func newMemState() *memState {
	return &memState{
		owners:      map[string]string{},
		media:       map[string]*models.MediaFile{},
		transcripts: map[string]*models.Transcription{},
	}
}

type fakeEntriesRepo struct {
	entries.Repository
	s *memState
}

func (f *fakeEntriesRepo) Create(ctx context.Context, e *models.Entry) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.owners[e.ID]; !ok {
		f.s.owners[e.ID] = e.UserID
	}
	return nil
}

func (f *fakeEntriesRepo) GetOwner(ctx context.Context, id string) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	owner, ok := f.s.owners[id]
	if !ok {
		return "", common.ErrorNotFound
	}
	return owner, nil
}

func (f *fakeEntriesRepo) GetOwnerForUpdate(ctx context.Context, id string) (string, error) {
	return f.GetOwner(ctx, id)
}

func (f *fakeEntriesRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.owners[id]; !ok {
		return false, nil
	}
	delete(f.s.owners, id)
	for mid, m := range f.s.media {
		if m.EntryID == id {
			f.s.dropMediaLocked(mid)
		}
	}
	return true, nil
}

func (s *memState) dropMediaLocked(id string) {
	delete(s.media, id)
	delete(s.transcripts, id)
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		if j.MediaFileID != id {
			kept = append(kept, j)
		}
	}
	s.jobs = kept
}

type fakeMediaRepo struct {
	mediafiles.Repository
	s *memState
}

func (f *fakeMediaRepo) Create(ctx context.Context, m *models.MediaFile) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.createErr != nil {
		return f.s.createErr
	}
	m.CreatedAt = time.Now()
	cp := *m
	f.s.media[m.ID] = &cp
	return nil
}

func (f *fakeMediaRepo) get(id string) (*models.MediaFile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.media[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMediaRepo) Get(ctx context.Context, id string) (*models.MediaFile, error) {
	return f.get(id)
}

func (f *fakeMediaRepo) GetForUpdate(ctx context.Context, id string) (*models.MediaFile, error) {
	return f.get(id)
}

func (f *fakeMediaRepo) GetForUser(ctx context.Context, id, userID string) (*models.MediaFile, error) {
	m, err := f.get(id)
	if err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.owners[m.EntryID] != userID {
		return nil, common.ErrorNotFound
	}
	return m, nil
}

func (f *fakeMediaRepo) ListByEntry(ctx context.Context, entryID string) ([]*models.MediaFile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := []*models.MediaFile{}
	for _, m := range f.s.media {
		if m.EntryID == entryID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaRepo) StorageKeysByEntry(ctx context.Context, entryID string) ([]string, error) {
	list, _ := f.ListByEntry(ctx, entryID)
	keys := make([]string, 0, len(list))
	for _, m := range list {
		keys = append(keys, m.StorageKey)
	}
	return keys, nil
}

func (f *fakeMediaRepo) SetEnrichment(ctx context.Context, id string, state models.EnrichmentState, d *float64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.media[id]
	if !ok {
		return errors.New("wrong rows affected count: 0")
	}
	m.EnrichmentState = state
	if d != nil {
		v := *d
		m.DurationSeconds = &v
	}
	return nil
}

func (f *fakeMediaRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.media[id]; !ok {
		return false, nil
	}
	f.s.dropMediaLocked(id)
	return true, nil
}

func (f *fakeMediaRepo) Exists(ctx context.Context, id string) (bool, error) {
	_, err := f.get(id)
	return err == nil, nil
}

type fakeTranscriptsRepo struct {
	transcriptions.Repository
	s *memState
}

func (f *fakeTranscriptsRepo) Upsert(ctx context.Context, t *models.Transcription) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cp := *t
	f.s.transcripts[t.MediaFileID] = &cp
	return nil
}

func (f *fakeTranscriptsRepo) GetByMediaFile(ctx context.Context, id string) (*models.Transcription, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.transcripts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTranscriptsRepo) DeleteByMediaFile(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.transcripts, id)
	return nil
}

type fakeJobsRepo struct {
	jobs.Repository
	s *memState
}

func (f *fakeJobsRepo) Enqueue(ctx context.Context, j *models.EnrichmentJob) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.enqueueErr != nil {
		return f.s.enqueueErr
	}
	cp := *j
	cp.Status = models.JobQueued
	f.s.jobs = append(f.s.jobs, &cp)
	return nil
}

func (f *fakeJobsRepo) HasOpen(ctx context.Context, mediaFileID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, j := range f.s.jobs {
		if j.MediaFileID == mediaFileID && j.Status != models.JobDone {
			return true, nil
		}
	}
	return false, nil
}

// PickNext claims the first queued job; leases are not modeled.
func (f *fakeJobsRepo) PickNext(ctx context.Context, lease time.Duration) (*models.EnrichmentJob, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, j := range f.s.jobs {
		if j.Status == models.JobQueued {
			j.Status = models.JobRunning
			j.Attempts++
			cp := *j
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeJobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return f.setStatus(id, models.JobQueued, &lastError)
}

func (f *fakeJobsRepo) Complete(ctx context.Context, id string, lastError *string) error {
	return f.setStatus(id, models.JobDone, lastError)
}

func (f *fakeJobsRepo) OldestDueAge(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

func (f *fakeJobsRepo) setStatus(id string, st models.JobStatus, lastError *string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, j := range f.s.jobs {
		if j.ID == id {
			j.Status = st
			j.LastError = lastError
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	s *memState
}

func (m *fakeRepoManager) Entries(dbx.DBTX) entries.Repository { return &fakeEntriesRepo{s: m.s} }
func (m *fakeRepoManager) MediaFiles(dbx.DBTX) mediafiles.Repository {
	return &fakeMediaRepo{s: m.s}
}
func (m *fakeRepoManager) Transcriptions(dbx.DBTX) transcriptions.Repository {
	return &fakeTranscriptsRepo{s: m.s}
}
func (m *fakeRepoManager) Jobs(dbx.DBTX) jobs.Repository { return &fakeJobsRepo{s: m.s} }

// -------- blob store --------

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	delErr  error
	deleted []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if b.putErr != nil {
		return b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, key)
	if b.delErr != nil {
		return b.delErr
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type presigningBlobs struct {
	*fakeBlobs
	ttl time.Duration
}

func (p *presigningBlobs) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	p.ttl = ttl
	return "https://s3.example/" + key + "?sig", nil
}

type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *countingWaker) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// expectCommits registers n successful transactions.
func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}
