package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cybeform/cybemeeting/internal/audio"
	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// OpenAIClient transcribes audio through the OpenAI transcription API.
// Files above the API upload cap are split into chunks, transcribed one by
// one and reassembled with shifted timestamps.
type OpenAIClient struct {
	settings   *conf.OpenAISettings
	processor  *audio.Processor
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a transcription client. The audio processor is
// used for probing and chunking large files.
func NewOpenAIClient(settings *conf.OpenAISettings, processor *audio.Processor) *OpenAIClient {
	logger := logging.ForService("transcription")
	if logger == nil {
		logger = slog.Default().With("service", "transcription")
	}
	return &OpenAIClient{
		settings:  settings,
		processor: processor,
		httpClient: &http.Client{
			Timeout: settings.Timeout,
		},
		logger: logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *OpenAIClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// verboseResponse matches the response_format=verbose_json API output.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe sends the file to the transcription API. Files above the
// configured upload cap take the chunked path.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return Result{}, errors.New(err).
			Component("transcription").
			Category(errors.CategoryFileIO).
			Build()
	}

	if info.Size() > c.settings.MaxUploadBytes {
		c.logger.Warn("file exceeds API upload cap, splitting audio",
			"size_bytes", info.Size(),
			"cap_bytes", c.settings.MaxUploadBytes)
		return c.transcribeChunked(ctx, audioPath)
	}

	result, err := c.transcribeFile(ctx, audioPath, 0)
	if err != nil {
		return Result{}, err
	}
	result.Service = "openai"

	c.logger.Info("transcription completed", "segments", len(result.Segments))
	return result, nil
}

// transcribeChunked splits the recording into fixed-length chunks and
// transcribes them sequentially, shifting every timestamp by the chunk
// offset.
func (c *OpenAIClient) transcribeChunked(ctx context.Context, audioPath string) (Result, error) {
	probed, err := c.processor.Probe(ctx, audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("probing audio before chunking: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "transcribe-chunks-")
	if err != nil {
		return Result{}, fmt.Errorf("creating chunk directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	chunks, err := c.processor.Chunk(ctx, audioPath, tempDir, c.settings.ChunkSeconds, probed.Duration)
	if err != nil {
		return Result{}, err
	}

	combined := Result{Language: c.settings.Language, Service: "openai-chunked"}
	var textParts []string

	for i, chunkPath := range chunks {
		offset := float64(i * c.settings.ChunkSeconds)
		c.logger.Info("transcribing chunk", "chunk", i+1, "total", len(chunks), "offset_seconds", offset)

		chunkResult, err := c.transcribeFile(ctx, chunkPath, offset)
		if err != nil {
			return Result{}, fmt.Errorf("transcribing chunk %d/%d: %w", i+1, len(chunks), err)
		}

		if text := strings.TrimSpace(chunkResult.Text); text != "" {
			textParts = append(textParts, text)
		}
		combined.Segments = append(combined.Segments, chunkResult.Segments...)
	}

	combined.Text = strings.Join(textParts, " ")

	c.logger.Info("large file transcription completed",
		"segments", len(combined.Segments),
		"chunks", len(chunks))
	return combined, nil
}

// transcribeFile uploads one file and shifts returned timestamps by offset.
func (c *OpenAIClient) transcribeFile(ctx context.Context, audioPath string, offset float64) (Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Result{}, errors.New(err).
			Component("transcription").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           c.settings.WhisperModel,
		"language":        c.settings.Language,
		"response_format": "verbose_json",
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return Result{}, fmt.Errorf("writing field %s: %w", key, err)
		}
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Result{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return Result{}, fmt.Errorf("copying audio into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("closing multipart writer: %w", err)
	}

	url := c.settings.APIHost + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return Result{}, fmt.Errorf("building transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.New(err).
			Component("transcription").
			Category(errors.CategoryNetwork).
			NetworkContext(url, c.settings.Timeout).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.Newf("transcription API returned %d: %s", resp.StatusCode, respBody).
			Component("transcription").
			Category(errors.CategoryTranscription).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var parsed verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decoding transcription response: %w", err)
	}

	result := Result{
		Text:     parsed.Text,
		Language: parsed.Language,
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{
			StartTime:  round2(seg.Start + offset),
			EndTime:    round2(seg.End + offset),
			Text:       strings.TrimSpace(seg.Text),
			Confidence: seg.AvgLogprob,
		})
	}
	return result, nil
}
