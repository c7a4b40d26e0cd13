package transcription

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/diarization"
)

func TestAlign(t *testing.T) {
	trans := &Result{
		Segments: []Segment{
			{StartTime: 0, EndTime: 3, Text: "Bonjour à tous."},
			{StartTime: 3, EndTime: 6, Text: "On commence."},
			{StartTime: 10, EndTime: 14, Text: "Le planning est tenu."},
		},
	}
	turns := []diarization.Turn{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 6, Duration: 6},
		{Speaker: "SPEAKER_1", StartTime: 6, EndTime: 9, Duration: 3},
		{Speaker: "SPEAKER_0", StartTime: 9, EndTime: 14, Duration: 5},
	}

	aligned := Align(trans, turns)
	require.Len(t, aligned, 3)

	assert.Equal(t, "Bonjour à tous. On commence.", aligned[0].Text)
	assert.Equal(t, "SPEAKER_0", aligned[0].Speaker)

	// No transcription overlaps the second turn
	assert.Equal(t, "[Aucun texte détecté]", aligned[1].Text)

	assert.Equal(t, "Le planning est tenu.", aligned[2].Text)
}

func TestAlignBoundaryTouchingSegments(t *testing.T) {
	trans := &Result{
		Segments: []Segment{
			{StartTime: 0, EndTime: 5, Text: "avant"},
			{StartTime: 5, EndTime: 10, Text: "après"},
		},
	}
	turns := []diarization.Turn{
		{Speaker: "SPEAKER_0", StartTime: 5, EndTime: 10, Duration: 5},
	}

	// A segment ending exactly where the turn starts does not overlap
	aligned := Align(trans, turns)
	require.Len(t, aligned, 1)
	assert.Equal(t, "après", aligned[0].Text)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Bonjour, voici le point. Des questions?",
		CleanText("  Bonjour ,   voici le point .  Des questions ?  "))
	assert.Equal(t, "", CleanText(""))
}

func TestFallback(t *testing.T) {
	result := Fallback(60)
	assert.Equal(t, "fallback", result.Service)
	assert.Equal(t, "fr", result.Language)
	require.Len(t, result.Segments, 6)
	assert.Equal(t, 0.0, result.Segments[0].StartTime)
	assert.Equal(t, 60.0, result.Segments[5].EndTime)
	assert.Contains(t, result.Segments[0].Text, "Transcription non disponible")
}

func TestFallbackZeroDuration(t *testing.T) {
	result := Fallback(0)
	assert.NotEmpty(t, result.Segments)
}

func newTestClient(t *testing.T) (*OpenAIClient, *httpmock.MockTransport) {
	t.Helper()
	settings := &conf.OpenAISettings{
		APIKey:         "sk-test",
		WhisperModel:   "whisper-1",
		APIHost:        "https://api.openai.com",
		Timeout:        time.Minute,
		Language:       "fr",
		ChunkSeconds:   600,
		MaxUploadBytes: conf.DefaultMaxUploadBytes,
	}
	client := NewOpenAIClient(settings, nil)

	transport := httpmock.NewMockTransport()
	client.SetHTTPClient(&http.Client{Transport: transport})
	return client, transport
}

func TestTranscribe(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, "https://api.openai.com/v1/audio/transcriptions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
			require.NoError(t, req.ParseMultipartForm(1<<20))
			assert.Equal(t, "whisper-1", req.FormValue("model"))
			assert.Equal(t, "fr", req.FormValue("language"))
			assert.Equal(t, "verbose_json", req.FormValue("response_format"))

			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"text":     "Bonjour à tous. On commence.",
				"language": "french",
				"segments": []map[string]any{
					{"start": 0.0, "end": 2.5, "text": " Bonjour à tous. ", "avg_logprob": -0.2},
					{"start": 2.5, "end": 4.0, "text": " On commence. ", "avg_logprob": -0.3},
				},
			})
		})

	audioPath := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("fake audio"), 0o600))

	result, err := client.Transcribe(context.Background(), audioPath)
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Service)
	assert.Equal(t, "Bonjour à tous. On commence.", result.Text)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Bonjour à tous.", result.Segments[0].Text)
	assert.Equal(t, 2.5, result.Segments[0].EndTime)
	assert.Equal(t, -0.2, result.Segments[0].Confidence)
}

func TestTranscribeAPIError(t *testing.T) {
	client, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, "https://api.openai.com/v1/audio/transcriptions",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`))

	audioPath := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, os.WriteFile(audioPath, []byte("fake audio"), 0o600))

	_, err := client.Transcribe(context.Background(), audioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTranscribeMissingFile(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "absent.wav"))
	assert.Error(t, err)
}
