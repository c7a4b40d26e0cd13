// config.go: settings struct for the CybeMeeting backend and functions to load and save the settings.
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // path to log file
	Rotation RotationType // rotation type
	MaxSize  int64        // max size in bytes for RotationSize
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // name of this node, can be used to identify the source of reports
	Log  LogConfig // main log configuration
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled bool   // true to enable web server
	Host    string // host to bind to
	Port    string // port to listen on
	Debug   bool   // true to enable debug logging for the web server
}

// SQLiteSettings contains settings for the SQLite database backend.
type SQLiteSettings struct {
	Enabled bool   // true to enable sqlite storage
	Path    string // path to sqlite database file
}

// MySQLSettings contains settings for the MySQL database backend.
type MySQLSettings struct {
	Enabled  bool   // true to enable mysql storage
	Username string // mysql username
	Password string // mysql password
	Host     string // mysql host
	Port     string // mysql port
	Database string // mysql database name
}

// RemoteTargetSettings configures offsite upload of generated reports.
type RemoteTargetSettings struct {
	Enabled  bool   // true to enable remote upload of generated reports
	Provider string // "sftp" or "ftp"
	Host     string // remote host
	Port     string // remote port
	Username string // remote username
	Password string // remote password
	BasePath string // base path on the remote side
}

// StorageSettings groups database and file storage settings.
type StorageSettings struct {
	SQLite   SQLiteSettings       // sqlite database configuration
	MySQL    MySQLSettings        // mysql database configuration
	DataPath string               // root directory for per-user meeting artifacts
	Remote   RemoteTargetSettings // offsite report upload
}

// AudioSettings contains settings for uploaded audio validation and processing.
type AudioSettings struct {
	MaxSizeMB      int      // maximum accepted upload size in megabytes
	AllowedFormats []string // accepted audio file extensions
	MaxDuration    int      // maximum accepted audio duration in minutes
	FfmpegPath     string   // path to ffmpeg binary
	FfprobePath    string   // path to ffprobe binary
	SampleRate     int      // target sample rate for normalized audio
	Channels       int      // target channel count for normalized audio
}

// OpenAISettings contains settings for the OpenAI transcription and analysis clients.
type OpenAISettings struct {
	APIKey         string        // API key, empty disables the clients
	Model          string        // chat model used for meeting analysis
	WhisperModel   string        // model used for transcription
	APIHost        string        // API base URL, override for testing
	Timeout        time.Duration // per request timeout
	Language       string        // transcription language hint
	ChunkSeconds   int           // chunk length for large file transcription
	MaxUploadBytes int64         // API upload cap, files above this are chunked
}

// DiarizationSettings contains settings for speaker diarization.
type DiarizationSettings struct {
	Provider   string        // "pyannote", "silence" or "none"
	Endpoint   string        // diarization server endpoint for the pyannote provider
	Token      string        // bearer token for the diarization server
	Timeout    time.Duration // per request timeout
	MinSegment float64       // minimum segment duration in seconds, shorter runs are merged
}

// SecuritySettings contains authentication settings.
type SecuritySettings struct {
	JWTSecret      string  // secret for signing access tokens, generated if empty
	TokenTTL       int     // access token lifetime in hours
	BcryptCost     int     // bcrypt hashing cost
	LoginRateLimit float64 // login attempts allowed per second per IP
	LoginRateBurst int     // login attempt burst per IP
}

// MQTTSettings contains settings for the meeting event publisher.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT publishing of meeting lifecycle events
	Broker   string // MQTT broker URL
	Topic    string // base topic for events
	Username string // MQTT username
	Password string // MQTT password
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting
	DSN     string // Sentry DSN
}

// ProcessingSettings tunes the background pipeline job queue.
type ProcessingSettings struct {
	QueueSize         int     // maximum number of queued pipeline jobs
	MaxRetries        int     // retry attempts for a failed pipeline run
	RetryDelay        int     // initial retry delay in seconds
	MaxRetryDelay     int     // maximum retry delay in seconds
	BackoffMultiplier float64 // retry backoff multiplier
}

// Settings is the root configuration struct.
type Settings struct {
	Debug bool // true to enable debug mode

	Main        MainSettings
	WebServer   WebServerSettings
	Storage     StorageSettings
	Audio       AudioSettings
	OpenAI      OpenAISettings
	Diarization DiarizationSettings
	Security    SecuritySettings
	MQTT        MQTTSettings
	Sentry      SentrySettings
	Processing  ProcessingSettings

	Version   string `yaml:"-"` // runtime value, not saved
	BuildDate string `yaml:"-"` // runtime value, not saved
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a new Settings struct and stores it as
// the package singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// generate an ephemeral signing secret when none is configured,
	// tokens then expire on restart until security.jwtsecret is set
	if settings.Security.JWTSecret == "" {
		settings.Security.JWTSecret = GenerateRandomSecret()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// defaults for each configuration parameter, defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	// if the token signing secret is not set, generate a random one
	if viper.GetString("security.jwtsecret") == "" {
		viper.Set("security.jwtsecret", GenerateRandomSecret())
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SetTestSettings replaces the singleton for tests.
func SetTestSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// GenerateRandomSecret generates a URL-safe base64 encoded random string
// suitable for use as a token signing secret.
func GenerateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// fall back to a time-based value, rand failure here means the
		// system entropy source is broken anyway
		log.Printf("Warning: failed to generate random secret: %v", err)
		return fmt.Sprintf("fallback-secret-%d", time.Now().UnixNano())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// GetDefaultConfigPaths returns the config search paths for the platform.
// The working directory is always included last so a local config.yaml
// takes effect during development.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "cybemeeting"))
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "cybemeeting"))
	}

	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no config paths available")
	}

	return paths, nil
}

// FindConfigFile returns the path of the config file currently in use.
func FindConfigFile() (string, error) {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		return "", fmt.Errorf("no config file in use")
	}
	return configFile, nil
}
