package diarization

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
	"sort"
	"strconv"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
	"github.com/cybeform/cybemeeting/internal/logging"
)

// PyannoteClient calls a pyannote diarization server over HTTP. The server
// accepts a multipart upload and returns speaker turns as JSON.
type PyannoteClient struct {
	settings   *conf.DiarizationSettings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPyannoteClient creates a diarization client for the configured endpoint.
func NewPyannoteClient(settings *conf.DiarizationSettings) *PyannoteClient {
	logger := logging.ForService("diarization")
	if logger == nil {
		logger = slog.Default().With("service", "diarization")
	}
	return &PyannoteClient{
		settings: settings,
		httpClient: &http.Client{
			Timeout: settings.Timeout,
		},
		logger: logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *PyannoteClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// serverTurn matches the diarization server response format.
type serverTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Diarize uploads the audio file and returns the speaker turns sorted by
// start time.
func (c *PyannoteClient) Diarize(ctx context.Context, audioPath string, expectedSpeakers int) (Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Result{}, errors.New(err).
			Component("diarization").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if expectedSpeakers > 0 {
		if err := mw.WriteField("num_speakers", strconv.Itoa(expectedSpeakers)); err != nil {
			return Result{}, fmt.Errorf("writing num_speakers field: %w", err)
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.Endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("building diarization request: %w", err)
	}
	if c.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.Token)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.New(err).
			Component("diarization").
			Category(errors.CategoryNetwork).
			NetworkContext(c.settings.Endpoint, c.settings.Timeout).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.Newf("diarization server returned %d: %s", resp.StatusCode, respBody).
			Component("diarization").
			Category(errors.CategoryDiarization).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var serverTurns []serverTurn
	if err := json.NewDecoder(resp.Body).Decode(&serverTurns); err != nil {
		return Result{}, fmt.Errorf("decoding diarization response: %w", err)
	}

	turns := make([]Turn, 0, len(serverTurns))
	for _, st := range serverTurns {
		turns = append(turns, Turn{
			Speaker:   st.Speaker,
			StartTime: round2(st.Start),
			EndTime:   round2(st.End),
			Duration:  round2(st.End - st.Start),
		})
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].StartTime < turns[j].StartTime })

	c.logger.Info("diarization completed",
		"turns", len(turns),
		"speakers", len((&Result{Turns: turns}).Speakers()))

	return Result{Turns: turns, Service: "pyannote"}, nil
}
