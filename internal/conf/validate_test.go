package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSettings returns a settings struct that passes validation, tests
// mutate individual fields to trigger specific errors.
func validSettings() *Settings {
	s := &Settings{}
	s.WebServer.Enabled = true
	s.WebServer.Port = "8000"
	s.Storage.SQLite.Enabled = true
	s.Storage.SQLite.Path = "test.db"
	s.Storage.DataPath = "data/"
	s.Audio.MaxSizeMB = 500
	s.Audio.MaxDuration = 120
	s.Audio.AllowedFormats = []string{".mp3", ".wav"}
	s.Audio.SampleRate = 16000
	s.Audio.Channels = 1
	s.OpenAI.APIHost = "https://api.openai.com"
	s.OpenAI.Timeout = time.Minute
	s.OpenAI.ChunkSeconds = 600
	s.OpenAI.MaxUploadBytes = DefaultMaxUploadBytes
	s.Diarization.Provider = "silence"
	s.Diarization.MinSegment = 1.0
	s.Security.TokenTTL = 168
	s.Security.BcryptCost = 12
	s.Security.LoginRateLimit = 1.0
	s.Security.LoginRateBurst = 5
	s.Processing.QueueSize = 100
	s.Processing.BackoffMultiplier = 2.0
	return s
}

func TestValidateSettingsValid(t *testing.T) {
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsInvalidPort(t *testing.T) {
	s := validSettings()
	s.WebServer.Port = "70000"
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "port")
}

func TestValidateSettingsNoDatabase(t *testing.T) {
	s := validSettings()
	s.Storage.SQLite.Enabled = false
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database backend")
}

func TestValidateSettingsBothDatabases(t *testing.T) {
	s := validSettings()
	s.Storage.MySQL.Enabled = true
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one database backend")
}

func TestValidateSettingsBadAudioFormat(t *testing.T) {
	s := validSettings()
	s.Audio.AllowedFormats = []string{"mp3"}
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with a dot")
}

func TestValidateSettingsPyannoteRequiresEndpoint(t *testing.T) {
	s := validSettings()
	s.Diarization.Provider = "pyannote"
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestValidateSettingsUnknownProvider(t *testing.T) {
	s := validSettings()
	s.Diarization.Provider = "magic"
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown diarization provider")
}

func TestValidateSettingsCollectsMultipleErrors(t *testing.T) {
	s := validSettings()
	s.Audio.MaxSizeMB = 0
	s.Security.TokenTTL = 0
	err := ValidateSettings(s)
	require.Error(t, err)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestGenerateRandomSecret(t *testing.T) {
	a := GenerateRandomSecret()
	b := GenerateRandomSecret()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
