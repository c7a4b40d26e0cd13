package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybeform/cybemeeting/internal/conf"
)

func testSettings() *conf.AudioSettings {
	return &conf.AudioSettings{
		MaxSizeMB:      500,
		AllowedFormats: []string{".mp3", ".wav", ".m4a", ".webm", ".opus"},
		MaxDuration:    120,
		FfmpegPath:     "ffmpeg",
		FfprobePath:    "ffprobe",
		SampleRate:     16000,
		Channels:       1,
	}
}

// writeTestWav writes a mono 16 kHz WAV file with the given number of
// samples of silence.
func writeTestWav(t *testing.T, path string, samples int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	encoder := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	require.NoError(t, encoder.Write(buf))
	require.NoError(t, encoder.Close())
}

func TestProbeWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wav")
	writeTestWav(t, path, 32000) // two seconds at 16 kHz

	info, err := probeWav(path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, info.Duration, 0.01)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, "wav", info.Format)
}

func TestProbeWavInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o600))

	_, err := probeWav(path)
	assert.Error(t, err)
}

func TestValidateMissingFile(t *testing.T) {
	p := NewProcessor(testSettings())

	err := p.Validate(context.Background(), filepath.Join(t.TempDir(), "absent.wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non trouvé")
}

func TestValidateUnsupportedFormat(t *testing.T) {
	p := NewProcessor(testSettings())

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes"), 0o600))

	err := p.Validate(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Format non supporté")
}

func TestValidateTooLarge(t *testing.T) {
	settings := testSettings()
	settings.MaxSizeMB = 0 // force failure without writing a huge file
	settings.AllowedFormats = []string{".wav"}
	p := NewProcessor(settings)

	path := filepath.Join(t.TempDir(), "big.wav")
	writeTestWav(t, path, 16000)

	err := p.Validate(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volumineux")
}

func TestValidateTooLong(t *testing.T) {
	settings := testSettings()
	settings.MaxDuration = 0 // any real file is over the limit
	p := NewProcessor(settings)

	path := filepath.Join(t.TempDir(), "long.wav")
	writeTestWav(t, path, 32000)

	err := p.Validate(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trop long")
}

func TestValidateOK(t *testing.T) {
	p := NewProcessor(testSettings())

	path := filepath.Join(t.TempDir(), "meeting.wav")
	writeTestWav(t, path, 32000)

	assert.NoError(t, p.Validate(context.Background(), path))
}

func TestChunkRejectsBadLength(t *testing.T) {
	p := NewProcessor(testSettings())

	_, err := p.Chunk(context.Background(), "in.wav", t.TempDir(), 0, 100)
	assert.Error(t, err)
}
