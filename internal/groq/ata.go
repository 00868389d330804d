package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"meeting-ata-go/internal/logger"
)

const (
	// systemRole fixes the model persona for minutes generation.
	systemRole = "Assistente especializado em atas de reunião de condomínios."

	// truncationMarker is appended when the transcript had to be cut to fit
	// the remote input limit.
	truncationMarker = "\n\n[TRANSCRIÇÃO TRUNCADA - CONTEÚDO MUITO LONGO]"
)

const ataPromptTemplate = `Analise a transcrição e gere uma ata formal com seções: ABERTURA, PRESENTES, PAUTA, DISCUSSÕES, DECISÕES, ENCERRAMENTO.

TRANSCRIÇÃO:
%s

Gere a ata:`

// TruncateTranscript bounds the transcript sent to the generator, marking the
// cut so the reader knows content was dropped.
func TruncateTranscript(transcript string, limit int) string {
	if limit <= 0 || len(transcript) <= limit {
		return transcript
	}
	return transcript[:limit] + truncationMarker
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateAta asks the chat model for a structured minutes document. The
// transcript must be non-empty; it is truncated to promptLimit characters
// before being sent.
func (c *Client) GenerateAta(ctx context.Context, transcript string, promptLimit int) (string, error) {
	log := logger.New().Component("groq")

	if !c.Configured() {
		return "", fmt.Errorf("groq api key not configured")
	}
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("empty transcript")
	}

	payload := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemRole},
			{Role: "user", Content: fmt.Sprintf(ataPromptTemplate, TruncateTranscript(transcript, promptLimit))},
		},
		Temperature: 0.3,
		MaxTokens:   4000,
		TopP:        1,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var resp chatResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.do(req, &resp)
	}
	if err := c.retry(ctx, op); err != nil {
		log.WithError(err).Warn("minutes generation request failed")
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("groq returned no choices")
	}
	ata := strings.TrimSpace(resp.Choices[0].Message.Content)
	if ata == "" {
		return "", fmt.Errorf("groq returned an empty minutes document")
	}
	log.WithField("chars", len(ata)).Info("minutes generated")
	return ata, nil
}

// UserMessage maps a failure from this package to the message persisted on
// the record and shown to the client on the next poll.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return "Chave da API Groq inválida"
		case apiErr.Status == http.StatusTooManyRequests:
			return "Limite de requisições do Groq excedido. Tente novamente em alguns instantes."
		case apiErr.Status >= 500:
			return "Erro interno do servidor Groq"
		}
		return apiErr.Message
	}
	return err.Error()
}

// IsPayloadTooLarge reports the 413 class of remote errors, which the
// pipeline turns into a fixed size-ceiling message.
func IsPayloadTooLarge(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusRequestEntityTooLarge {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "too large")
}
