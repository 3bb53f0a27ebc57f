package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/common"
	"github.com/dmitrijs2005/diarymedia/internal/server/auth"
	"github.com/dmitrijs2005/diarymedia/internal/server/models"
	"github.com/dmitrijs2005/diarymedia/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

// -------- fakes --------

type fakeIngester struct {
	got     services.IngestRequest
	body    string
	user    string
	err     error
	readErr error
}

func (f *fakeIngester) Ingest(ctx context.Context, p models.Principal, req services.IngestRequest) (*models.MediaFile, error) {
	b, err := io.ReadAll(req.Body)
	f.readErr = err
	f.got, f.body, f.user = req, string(b), p.UserID
	if f.err != nil {
		return nil, f.err
	}
	return &models.MediaFile{
		ID: "m1", EntryID: req.EntryID, MimeType: req.DeclaredMimeType, Kind: models.MediaKindAudio,
		SizeBytes: int64(len(b)), Caption: req.Caption, EnrichmentState: models.EnrichmentPending,
	}, nil
}

type fakeRegistry struct {
	Registry
	media      *models.MediaFile
	transcript *models.Transcription
	err        error
	blobs      map[string]string
	presign    string
	calls      []string
}

func (f *fakeRegistry) record(op, user, id string) { f.calls = append(f.calls, op+":"+user+":"+id) }

func (f *fakeRegistry) RegisterEntry(ctx context.Context, p models.Principal, id string) error {
	f.record("register", p.UserID, id)
	return f.err
}

func (f *fakeRegistry) DeleteEntry(ctx context.Context, p models.Principal, id string) error {
	f.record("delete-entry", p.UserID, id)
	return f.err
}

func (f *fakeRegistry) GetMedia(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error) {
	f.record("get", p.UserID, id)
	return f.media, f.err
}

func (f *fakeRegistry) ListEntryMedia(ctx context.Context, p models.Principal, id string) ([]*models.MediaFile, error) {
	f.record("list", p.UserID, id)
	if f.err != nil {
		return nil, f.err
	}
	return []*models.MediaFile{}, nil
}

func (f *fakeRegistry) GetTranscription(ctx context.Context, p models.Principal, id string) (*models.Transcription, *models.MediaFile, error) {
	f.record("transcript", p.UserID, id)
	return f.transcript, f.media, f.err
}

func (f *fakeRegistry) RequestReenrichment(ctx context.Context, p models.Principal, id string) (*models.MediaFile, error) {
	f.record("retry", p.UserID, id)
	return f.media, f.err
}

func (f *fakeRegistry) DeleteMedia(ctx context.Context, p models.Principal, id string) error {
	f.record("delete", p.UserID, id)
	return f.err
}

func (f *fakeRegistry) OpenBlob(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := f.blobs[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(strings.NewReader(b)), nil
}

func (f *fakeRegistry) PresignBlob(ctx context.Context, key string) (string, bool, error) {
	if f.presign == "" {
		return "", false, nil
	}
	return f.presign + key, true, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

// -------- helpers --------

func newTestServer(t *testing.T, ing *fakeIngester, reg *fakeRegistry) *httptest.Server {
	t.Helper()
	s := NewServer(Options{SecretKey: secret, MaxUploadBytes: 1 << 10, CORSOrigins: []string{"https://diary.example"}},
		ing, reg, fakePinger{}, prometheus.NewRegistry(), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.GenerateToken(user, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, method, url, user string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type part struct {
	name, filename, contentType, value string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.filename != "" {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.name, p.filename))
		} else {
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.name))
		}
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, _ = io.WriteString(w, p.value)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// -------- tests --------

func TestUpload_Created(t *testing.T) {
	ing := &fakeIngester{}
	srv := newTestServer(t, ing, &fakeRegistry{})

	body, ct := multipartBody(t,
		part{name: "caption", value: "  morning walk "},
		part{name: "file", filename: "../../note.webm", contentType: "audio/webm;codecs=opus", value: "OggS"},
	)
	resp := do(t, http.MethodPost, srv.URL+"/api/entries/e1/media", "alice", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decode[models.MediaFile](t, resp)
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, models.EnrichmentPending, got.EnrichmentState)

	assert.Equal(t, "alice", ing.user)
	assert.Equal(t, "e1", ing.got.EntryID)
	assert.Equal(t, "note.webm", ing.got.OriginalFilename)
	assert.Equal(t, "audio/webm;codecs=opus", ing.got.DeclaredMimeType)
	assert.Equal(t, "OggS", ing.body)
	require.NotNil(t, ing.got.Caption)
	assert.Equal(t, "morning walk", *ing.got.Caption)
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"too large", fmt.Errorf("%w: 10 bytes", common.ErrPayloadTooLarge), http.StatusRequestEntityTooLarge},
		{"unsupported", common.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{"entry", common.ErrEntryNotFound, http.StatusNotFound},
		{"blob", fmt.Errorf("%w: s3 down", common.ErrBlobWriteFailed), http.StatusInternalServerError},
		{"registry", common.ErrRegistryWriteFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeIngester{err: tt.err}, &fakeRegistry{})
			body, ct := multipartBody(t, part{name: "file", filename: "a.bin", value: "x"})
			resp := do(t, http.MethodPost, srv.URL+"/api/entries/e1/media", "alice", body, ct)
			assert.Equal(t, tt.status, resp.StatusCode)

			e := decode[errorResponse](t, resp)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "Internal Server Error", e.Error, "no internals leaked")
			} else {
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

func TestUpload_RequestTooLarge(t *testing.T) {
	ing := &fakeIngester{}
	s := NewServer(Options{SecretKey: secret, MaxUploadBytes: 1 << 10}, ing, &fakeRegistry{}, nil, nil, nil)

	body, ct := multipartBody(t, part{name: "file", filename: "big.wav", value: strings.Repeat("a", 3<<20)})
	req := httptest.NewRequest(http.MethodPost, "/api/entries/e1/media", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, ing.got.EntryID, "ingest never called")
}

func TestUpload_BadRequests(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, &fakeRegistry{})

	resp := do(t, http.MethodPost, srv.URL+"/api/entries/e1/media", "alice", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct := multipartBody(t, part{name: "caption", value: "only a caption"})
	resp = do(t, http.MethodPost, srv.URL+"/api/entries/e1/media", "alice", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	reg := &fakeRegistry{media: &models.MediaFile{ID: "m1"}}
	srv := newTestServer(t, &fakeIngester{}, reg)

	resp := do(t, http.MethodGet, srv.URL+"/api/media/m1", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/media/m1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)

	expired, err := auth.GenerateToken("alice", []byte(secret), -time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+expired)
	exp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer exp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, exp.StatusCode)

	assert.Empty(t, reg.calls)
}

func TestMediaEndpoints(t *testing.T) {
	reg := &fakeRegistry{media: &models.MediaFile{ID: "m1", EnrichmentState: models.EnrichmentFailed}}
	srv := newTestServer(t, &fakeIngester{}, reg)

	resp := do(t, http.MethodGet, srv.URL+"/api/media/m1", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.EnrichmentFailed, decode[models.MediaFile](t, resp).EnrichmentState)

	resp = do(t, http.MethodGet, srv.URL+"/api/entries/e1/media", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]models.MediaFile](t, resp))

	resp = do(t, http.MethodPost, srv.URL+"/api/media/m1/transcription/retry", "alice", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/media/m1", "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/entries/e7", "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/entries/e7", "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/entries/e8/media", "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, []string{
		"get:alice:m1", "list:alice:e1", "retry:alice:m1", "delete:alice:m1",
		"register:alice:e7", "delete-entry:alice:e7", "delete-entry:alice:e8",
	}, reg.calls)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{common.ErrorNotFound, http.StatusNotFound},
		{common.ErrEntryNotFound, http.StatusNotFound},
		{common.ErrInvalidTransition, http.StatusConflict},
		{common.ErrNotEnrichable, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		reg := &fakeRegistry{err: tt.err}
		srv := newTestServer(t, &fakeIngester{}, reg)
		resp := do(t, http.MethodPost, srv.URL+"/api/media/m1/transcription/retry", "alice", nil, "")
		assert.Equal(t, tt.status, resp.StatusCode, tt.err.Error())
	}
}

func TestTranscription(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		conf := 91
		reg := &fakeRegistry{
			transcript: &models.Transcription{ID: "t1", MediaFileID: "m1", Text: "hi", Confidence: &conf, Language: "en"},
			media:      &models.MediaFile{ID: "m1", EnrichmentState: models.EnrichmentSucceeded},
		}
		srv := newTestServer(t, &fakeIngester{}, reg)
		resp := do(t, http.MethodGet, srv.URL+"/api/media/m1/transcription", "alice", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[models.Transcription](t, resp)
		assert.Equal(t, "hi", got.Text)
		assert.Equal(t, 91, *got.Confidence)
	})

	t.Run("pending", func(t *testing.T) {
		reg := &fakeRegistry{
			media: &models.MediaFile{ID: "m1", EnrichmentState: models.EnrichmentPending},
			err:   common.ErrorNotFound,
		}
		srv := newTestServer(t, &fakeIngester{}, reg)
		resp := do(t, http.MethodGet, srv.URL+"/api/media/m1/transcription", "alice", nil, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, models.EnrichmentPending, decode[transcriptionMissing](t, resp).EnrichmentState)
	})

	t.Run("unknown media", func(t *testing.T) {
		reg := &fakeRegistry{err: common.ErrorNotFound}
		srv := newTestServer(t, &fakeIngester{}, reg)
		resp := do(t, http.MethodGet, srv.URL+"/api/media/m1/transcription", "alice", nil, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Empty(t, decode[transcriptionMissing](t, resp).EnrichmentState)
	})
}

func TestFiles(t *testing.T) {
	reg := &fakeRegistry{blobs: map[string]string{"1700000000000-ab.png": "png-bytes"}}
	srv := newTestServer(t, &fakeIngester{}, reg)

	resp := do(t, http.MethodGet, srv.URL+"/files/1700000000000-ab.png", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "png-bytes", string(b))

	resp = do(t, http.MethodGet, srv.URL+"/files/missing.png", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	reg.presign = "https://s3.example/"
	resp = do(t, http.MethodGet, srv.URL+"/files/k.png", "", nil, "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://s3.example/k.png", resp.Header.Get("Location"))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, &fakeRegistry{})

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s := NewServer(Options{}, &fakeIngester{}, &fakeRegistry{}, fakePinger{err: errors.New("down")}, nil, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, &fakeRegistry{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/entries/e1/media", nil)
	req.Header.Set("Origin", "https://diary.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://diary.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
