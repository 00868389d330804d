// Package groq wraps the two Groq endpoints the service depends on: Whisper
// transcription and chat-completion minutes generation.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"meeting-ata-go/internal/logger"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

var httpClient = &http.Client{Timeout: 120 * time.Second}

// APIError is a non-2xx answer from Groq, kept distinct from transport
// failures so callers can map status classes to user-facing messages.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("groq api error: status=%d message=%s", e.Status, e.Message)
}

// Client talks to the Groq API. Zero value is not usable; use NewClient.
type Client struct {
	apiKey       string
	baseURL      string
	whisperModel string
	chatModel    string
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client elsewhere (tests, proxies).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func NewClient(apiKey, whisperModel, chatModel string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		whisperModel: whisperModel,
		chatModel:    chatModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c
}

// Configured reports whether an API key is present, so callers can fail fast
// instead of attempting network calls.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiKey != "your_groq_api_key_here"
}

// Transcription is the recognized text for one audio file.
type Transcription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration,omitempty"`
	Language string  `json:"language,omitempty"`
}

// Transcribe uploads one audio file to the Whisper endpoint. The file must
// already be within the remote size ceiling; oversized payloads come back as
// an APIError with status 413.
func (c *Client) Transcribe(ctx context.Context, filePath string) (Transcription, error) {
	log := logger.New().Component("groq").WithField("file", filepath.Base(filePath))

	if !c.Configured() {
		return Transcription{}, fmt.Errorf("groq api key not configured")
	}
	if _, err := os.Stat(filePath); err != nil {
		return Transcription{}, fmt.Errorf("audio file unavailable: %w", err)
	}

	var result Transcription
	op := func() error {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		part, err := w.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			return backoff.Permanent(err)
		}
		f, err := os.Open(filePath)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, copyErr := io.Copy(part, f)
		f.Close()
		if copyErr != nil {
			return backoff.Permanent(copyErr)
		}
		_ = w.WriteField("model", c.whisperModel)
		_ = w.WriteField("language", "pt")
		_ = w.WriteField("prompt", "Esta é uma transcrição de uma reunião de condomínio.")
		_ = w.WriteField("response_format", "verbose_json")
		_ = w.WriteField("temperature", "0")
		if err := w.Close(); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		return c.do(req, &result)
	}

	if err := c.retry(ctx, op); err != nil {
		log.WithError(err).Warn("transcription request failed")
		return Transcription{}, err
	}
	log.WithField("chars", len(result.Text)).Info("transcription received")
	return result, nil
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: parseErrorMessage(raw)}
		if resp.StatusCode >= 500 {
			return apiErr // retryable
		}
		return backoff.Permanent(apiErr)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return backoff.Permanent(fmt.Errorf("decode groq response: %w body=%s", err, string(raw)))
	}
	return nil
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func parseErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
