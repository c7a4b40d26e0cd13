package diarization

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
)

func TestMergeShortTurns(t *testing.T) {
	turns := []Turn{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 0.5, Duration: 0.5},
		{Speaker: "SPEAKER_0", StartTime: 0.5, EndTime: 4, Duration: 3.5},
		{Speaker: "SPEAKER_1", StartTime: 4, EndTime: 8, Duration: 4},
	}

	merged := MergeShortTurns(turns, 1.0)
	require.Len(t, merged, 2)
	assert.Equal(t, "SPEAKER_0", merged[0].Speaker)
	assert.Equal(t, 0.0, merged[0].StartTime)
	assert.Equal(t, 4.0, merged[0].EndTime)
	assert.Equal(t, 4.0, merged[0].Duration)
	assert.Equal(t, "SPEAKER_1", merged[1].Speaker)
}

func TestMergeShortTurnsDifferentSpeakers(t *testing.T) {
	turns := []Turn{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 0.5, Duration: 0.5},
		{Speaker: "SPEAKER_1", StartTime: 0.5, EndTime: 4, Duration: 3.5},
	}

	// Short turn from a different speaker is kept as is
	merged := MergeShortTurns(turns, 1.0)
	assert.Len(t, merged, 2)
}

func TestMergeShortTurnsEmpty(t *testing.T) {
	assert.Empty(t, MergeShortTurns(nil, 1.0))
}

func TestComputeStatistics(t *testing.T) {
	turns := []Turn{
		{Speaker: "SPEAKER_0", StartTime: 0, EndTime: 6, Duration: 6},
		{Speaker: "SPEAKER_1", StartTime: 6, EndTime: 8, Duration: 2},
		{Speaker: "SPEAKER_0", StartTime: 8, EndTime: 10, Duration: 2},
	}

	stats := ComputeStatistics(turns)
	assert.Equal(t, 2, stats.TotalSpeakers)
	assert.Equal(t, 10.0, stats.TotalDuration)

	s0 := stats.Speakers["SPEAKER_0"]
	assert.Equal(t, 8.0, s0.TotalDuration)
	assert.Equal(t, 2, s0.SegmentCount)
	assert.Equal(t, 80.0, s0.Percentage)
	assert.Equal(t, 4.0, s0.AverageSegmentDuration)

	s1 := stats.Speakers["SPEAKER_1"]
	assert.Equal(t, 20.0, s1.Percentage)
}

func TestFallbackDiarizer(t *testing.T) {
	d := &FallbackDiarizer{
		DurationFn: func(ctx context.Context, audioPath string) (float64, error) {
			return 120.0, nil
		},
	}

	result, err := d.Diarize(context.Background(), "meeting.wav", 3)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Service)
	require.Len(t, result.Turns, 6)

	// Turns cover the whole recording and alternate speakers
	assert.Equal(t, 0.0, result.Turns[0].StartTime)
	assert.Equal(t, 120.0, result.Turns[len(result.Turns)-1].EndTime)
	assert.Equal(t, []string{"SPEAKER_0", "SPEAKER_1", "SPEAKER_2"}, result.Speakers())
}

func TestFallbackDiarizerNoDuration(t *testing.T) {
	d := &FallbackDiarizer{}

	result, err := d.Diarize(context.Background(), "meeting.wav", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Turns)
	assert.Equal(t, []string{"SPEAKER_0", "SPEAKER_1"}, result.Speakers())
}

func TestPyannoteClientDiarize(t *testing.T) {
	settings := &conf.DiarizationSettings{
		Provider: "pyannote",
		Endpoint: "http://diarizer.local/diarize",
		Token:    "secret",
		Timeout:  time.Minute,
	}
	client := NewPyannoteClient(settings)

	transport := httpmock.NewMockTransport()
	client.SetHTTPClient(&http.Client{Transport: transport})

	transport.RegisterResponder(http.MethodPost, "http://diarizer.local/diarize",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, []map[string]any{
				{"speaker": "SPEAKER_01", "start": 5.0, "end": 9.5},
				{"speaker": "SPEAKER_00", "start": 0.0, "end": 5.0},
			})
		})

	audioPath := writeTempFile(t, "audio.wav", []byte("fake"))

	result, err := client.Diarize(context.Background(), audioPath, 2)
	require.NoError(t, err)
	assert.Equal(t, "pyannote", result.Service)
	require.Len(t, result.Turns, 2)

	// Sorted by start time
	assert.Equal(t, "SPEAKER_00", result.Turns[0].Speaker)
	assert.Equal(t, 5.0, result.Turns[0].Duration)
	assert.Equal(t, "SPEAKER_01", result.Turns[1].Speaker)
	assert.Equal(t, 4.5, result.Turns[1].Duration)
}

func TestPyannoteClientServerError(t *testing.T) {
	settings := &conf.DiarizationSettings{
		Provider: "pyannote",
		Endpoint: "http://diarizer.local/diarize",
		Timeout:  time.Minute,
	}
	client := NewPyannoteClient(settings)

	transport := httpmock.NewMockTransport()
	client.SetHTTPClient(&http.Client{Transport: transport})

	transport.RegisterResponder(http.MethodPost, "http://diarizer.local/diarize",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model crashed"))

	audioPath := writeTempFile(t, "audio.wav", []byte("fake"))

	_, err := client.Diarize(context.Background(), audioPath, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
