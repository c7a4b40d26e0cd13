// validate.go: validation of configuration settings
package conf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings checks all configuration values and returns a combined
// ValidationError listing every problem found.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validateWebServerSettings(&settings.WebServer, &ve)
	validateStorageSettings(&settings.Storage, &ve)
	validateAudioSettings(&settings.Audio, &ve)
	validateOpenAISettings(&settings.OpenAI, &ve)
	validateDiarizationSettings(&settings.Diarization, &ve)
	validateSecuritySettings(&settings.Security, &ve)
	validateProcessingSettings(&settings.Processing, &ve)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings, ve *ValidationError) {
	if !settings.Enabled {
		return
	}
	if port, err := strconv.Atoi(settings.Port); err != nil || port < 1 || port > 65535 {
		ve.Errors = append(ve.Errors, "webserver port must be a number between 1 and 65535")
	}
}

func validateStorageSettings(settings *StorageSettings, ve *ValidationError) {
	if !settings.SQLite.Enabled && !settings.MySQL.Enabled {
		ve.Errors = append(ve.Errors, "at least one database backend must be enabled")
	}
	if settings.SQLite.Enabled && settings.MySQL.Enabled {
		ve.Errors = append(ve.Errors, "only one database backend can be enabled at a time")
	}
	if settings.SQLite.Enabled && settings.SQLite.Path == "" {
		ve.Errors = append(ve.Errors, "sqlite database path must not be empty")
	}
	if settings.DataPath == "" {
		ve.Errors = append(ve.Errors, "storage data path must not be empty")
	}
	if settings.Remote.Enabled {
		if settings.Remote.Provider != "sftp" && settings.Remote.Provider != "ftp" {
			ve.Errors = append(ve.Errors, "remote storage provider must be sftp or ftp")
		}
		if settings.Remote.Host == "" {
			ve.Errors = append(ve.Errors, "remote storage host must not be empty")
		}
	}
}

func validateAudioSettings(settings *AudioSettings, ve *ValidationError) {
	if settings.MaxSizeMB <= 0 {
		ve.Errors = append(ve.Errors, "audio max size must be positive")
	}
	if settings.MaxDuration <= 0 {
		ve.Errors = append(ve.Errors, "audio max duration must be positive")
	}
	if len(settings.AllowedFormats) == 0 {
		ve.Errors = append(ve.Errors, "audio allowed formats must not be empty")
	}
	for _, format := range settings.AllowedFormats {
		if !strings.HasPrefix(format, ".") {
			ve.Errors = append(ve.Errors, fmt.Sprintf("audio format %q must start with a dot", format))
		}
	}
	if settings.SampleRate <= 0 {
		ve.Errors = append(ve.Errors, "audio sample rate must be positive")
	}
	if settings.Channels != 1 && settings.Channels != 2 {
		ve.Errors = append(ve.Errors, "audio channels must be 1 or 2")
	}
}

func validateOpenAISettings(settings *OpenAISettings, ve *ValidationError) {
	if settings.APIHost == "" {
		ve.Errors = append(ve.Errors, "openai api host must not be empty")
	}
	if settings.ChunkSeconds <= 0 {
		ve.Errors = append(ve.Errors, "openai chunk seconds must be positive")
	}
	if settings.MaxUploadBytes <= 0 {
		ve.Errors = append(ve.Errors, "openai max upload bytes must be positive")
	}
}

func validateDiarizationSettings(settings *DiarizationSettings, ve *ValidationError) {
	switch settings.Provider {
	case "pyannote":
		if settings.Endpoint == "" {
			ve.Errors = append(ve.Errors, "diarization endpoint must be set for the pyannote provider")
		}
	case "silence", "none":
	default:
		ve.Errors = append(ve.Errors, fmt.Sprintf("unknown diarization provider %q", settings.Provider))
	}
	if settings.MinSegment < 0 {
		ve.Errors = append(ve.Errors, "diarization minimum segment duration must not be negative")
	}
}

func validateSecuritySettings(settings *SecuritySettings, ve *ValidationError) {
	if settings.TokenTTL <= 0 {
		ve.Errors = append(ve.Errors, "security token ttl must be positive")
	}
	if settings.BcryptCost < 4 || settings.BcryptCost > 31 {
		ve.Errors = append(ve.Errors, "security bcrypt cost must be between 4 and 31")
	}
	if settings.LoginRateLimit <= 0 {
		ve.Errors = append(ve.Errors, "security login rate limit must be positive")
	}
	if settings.LoginRateBurst <= 0 {
		ve.Errors = append(ve.Errors, "security login rate burst must be positive")
	}
}

func validateProcessingSettings(settings *ProcessingSettings, ve *ValidationError) {
	if settings.QueueSize <= 0 {
		ve.Errors = append(ve.Errors, "processing queue size must be positive")
	}
	if settings.MaxRetries < 0 {
		ve.Errors = append(ve.Errors, "processing max retries must not be negative")
	}
	if settings.BackoffMultiplier < 1 {
		ve.Errors = append(ve.Errors, "processing backoff multiplier must be at least 1")
	}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
