package transcriber

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dmitrijs2005/diarymedia/internal/logging"
)

// DefaultTimeout bounds a single transcription call.
const DefaultTimeout = 60 * time.Second

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	// BaseURL up to and including the API version, e.g. "https://api.openai.com/v1".
	BaseURL string
	APIKey  string
	Model   string
	// Language is sent as a hint when set.
	Language string
	Timeout  time.Duration
}

// OpenAIClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIClient struct {
	cfg  OpenAIConfig
	http *http.Client
	log  logging.Logger
}

// NewOpenAIClient returns a client. A nil httpClient means http.DefaultClient.
func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client, log logging.Logger) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logging.Nop()
	}
	return &OpenAIClient{cfg: cfg, http: httpClient, log: log.With("module", "transcriber")}
}

type verboseResponse struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Duration *float64 `json:"duration"`
	Segments []struct {
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Transcribe uploads audio as multipart/form-data and parses a verbose_json
// response. The body is streamed, not buffered.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	body := bufio.NewReader(audio.Body)
	if _, err := body.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, permanent(0, "empty audio", nil)
		}
		return nil, transient(0, "read audio", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeForm(mw, audio, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", pr)
	if err != nil {
		pr.Close()
		return nil, permanent(0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	c.log.Debug(ctx, "transcription response", "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, classifyStatus(resp.StatusCode, b)
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		if ctx.Err() != nil {
			return nil, transient(0, "read response", ctx.Err())
		}
		return nil, permanent(resp.StatusCode, "undecodable response", err)
	}

	return &Result{
		Text:            strings.TrimSpace(vr.Text),
		DurationSeconds: vr.Duration,
		Language:        NormalizeLanguage(vr.Language),
		Confidence:      confidence(vr),
	}, nil
}

func (c *OpenAIClient) writeForm(mw *multipart.Writer, audio Audio, body io.Reader) error {
	if err := mw.WriteField("model", c.cfg.Model); err != nil {
		return err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return err
	}
	if c.cfg.Language != "" {
		if err := mw.WriteField("language", c.cfg.Language); err != nil {
			return err
		}
	}

	name := audio.Name
	if name == "" {
		name = "audio"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if audio.MimeType != "" {
		h.Set("Content-Type", audio.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	fw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, body); err != nil {
		return err
	}
	return mw.Close()
}

// confidence turns the mean segment avg_logprob into a probability.
func confidence(vr verboseResponse) *float64 {
	var sum float64
	var n int
	for _, s := range vr.Segments {
		if s.AvgLogprob != nil {
			sum += *s.AvgLogprob
			n++
		}
	}
	if n == 0 {
		return nil
	}
	p := math.Exp(sum / float64(n))
	p = math.Max(0, math.Min(1, p))
	return &p
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transient(0, "timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return transient(0, "canceled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return transient(0, "network", err)
	}
	// Connection resets and similar surface as *url.Error; all retryable.
	return transient(0, "transport", err)
}

func classifyStatus(status int, body []byte) *Error {
	msg := http.StatusText(status)
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		if ae.Error.Code == "insufficient_quota" || ae.Error.Type == "insufficient_quota" {
			return permanent(status, msg, nil)
		}
		return transient(status, msg, nil)
	case status == http.StatusRequestTimeout, status >= 500:
		return transient(status, msg, nil)
	default:
		return permanent(status, msg, nil)
	}
}
