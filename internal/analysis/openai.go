package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
	"github.com/cybeform/cybemeeting/internal/transcription"
)

const (
	analysisTemperature = 0.1
	analysisMaxTokens   = 12000
)

// OpenAIClient runs the meeting analysis through the chat completions API.
type OpenAIClient struct {
	settings   *conf.OpenAISettings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient returns an analyzer bound to the configured model.
func NewOpenAIClient(settings *conf.OpenAISettings) *OpenAIClient {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &OpenAIClient{
		settings:   settings,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.ForService("analysis"),
	}
}

// SetHTTPClient overrides the transport, used by tests.
func (c *OpenAIClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Analyze formats the transcript, queries the model and cleans the JSON
// response. A failed or unparseable call degrades to the fallback analysis
// instead of failing the whole pipeline.
func (c *OpenAIClient) Analyze(ctx context.Context, segments []transcription.AlignedSegment, meta Metadata) (map[string]any, error) {
	if len(segments) == 0 {
		return Fallback(segments, meta, "aucun segment de transcription"), nil
	}

	transcript := formatTranscript(segments)
	if strings.TrimSpace(transcript) == "" {
		return Fallback(segments, meta, "transcription vide"), nil
	}

	start := time.Now()
	raw, err := c.complete(ctx, transcript, meta)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("analysis request failed, using fallback", "error", err)
		return Fallback(segments, meta, err.Error()), nil
	}

	result, err := ValidateAndClean(raw, meta, len(segments))
	if err != nil {
		c.logger.Warn("analysis response unparseable, using fallback", "error", err)
		return Fallback(segments, meta, "réponse du modèle invalide"), nil
	}

	c.logger.Info("analysis completed",
		"model", c.settings.Model,
		"segments", len(segments),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// complete performs the chat completions call and returns the raw JSON
// content of the first choice.
func (c *OpenAIClient) complete(ctx context.Context, transcript string, meta Metadata) ([]byte, error) {
	payload := chatRequest{
		Model: c.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(meta.AIInstructions)},
			{Role: "user", Content: analysisPrompt(transcript, meta)},
		},
		Temperature:    analysisTemperature,
		MaxTokens:      analysisMaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Context("operation", "marshal_request").
			Build()
	}

	url := strings.TrimRight(c.settings.APIHost, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Context("operation", "build_request").
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryNetwork).
			Context("operation", "chat_completions").
			Build()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryNetwork).
			Context("operation", "read_response").
			Build()
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Newf("invalid chat completions response: %w", err).
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		message := http.StatusText(resp.StatusCode)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, errors.Newf("chat completions returned %d: %s", resp.StatusCode, message).
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if len(parsed.Choices) == 0 {
		return nil, errors.Newf("chat completions returned no choices").
			Component("analysis").
			Category(errors.CategoryAnalysis).
			Build()
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("chat completions returned empty content")
	}
	return []byte(content), nil
}
