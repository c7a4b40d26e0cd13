// defaults.go: default configuration values
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default configuration values for viper.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// main settings
	viper.SetDefault("main.name", "CybeMeeting")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/cybemeeting.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10*1024*1024)

	// webserver settings
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "8000")
	viper.SetDefault("webserver.debug", false)

	// storage settings
	viper.SetDefault("storage.sqlite.enabled", true)
	viper.SetDefault("storage.sqlite.path", "cybemeeting.db")
	viper.SetDefault("storage.mysql.enabled", false)
	viper.SetDefault("storage.mysql.username", "cybemeeting")
	viper.SetDefault("storage.mysql.password", "cybemeeting")
	viper.SetDefault("storage.mysql.host", "localhost")
	viper.SetDefault("storage.mysql.port", "3306")
	viper.SetDefault("storage.mysql.database", "cybemeeting")
	viper.SetDefault("storage.datapath", "data/")
	viper.SetDefault("storage.remote.enabled", false)
	viper.SetDefault("storage.remote.provider", "sftp")
	viper.SetDefault("storage.remote.host", "")
	viper.SetDefault("storage.remote.port", "22")
	viper.SetDefault("storage.remote.username", "")
	viper.SetDefault("storage.remote.password", "")
	viper.SetDefault("storage.remote.basepath", "reports/")

	// audio settings
	viper.SetDefault("audio.maxsizemb", 500)
	viper.SetDefault("audio.allowedformats", []string{".mp3", ".wav", ".m4a", ".webm", ".opus"})
	viper.SetDefault("audio.maxduration", 120)
	viper.SetDefault("audio.ffmpegpath", "ffmpeg")
	viper.SetDefault("audio.ffprobepath", "ffprobe")
	viper.SetDefault("audio.samplerate", 16000)
	viper.SetDefault("audio.channels", 1)

	// openai settings
	viper.SetDefault("openai.apikey", "")
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.whispermodel", "whisper-1")
	viper.SetDefault("openai.apihost", "https://api.openai.com")
	viper.SetDefault("openai.timeout", 5*time.Minute)
	viper.SetDefault("openai.language", "fr")
	viper.SetDefault("openai.chunkseconds", DefaultChunkSeconds)
	viper.SetDefault("openai.maxuploadbytes", DefaultMaxUploadBytes)

	// diarization settings
	viper.SetDefault("diarization.provider", "silence")
	viper.SetDefault("diarization.endpoint", "")
	viper.SetDefault("diarization.token", "")
	viper.SetDefault("diarization.timeout", 10*time.Minute)
	viper.SetDefault("diarization.minsegment", 1.0)

	// security settings
	viper.SetDefault("security.jwtsecret", "")
	viper.SetDefault("security.tokenttl", 168)
	viper.SetDefault("security.bcryptcost", 12)
	viper.SetDefault("security.loginratelimit", 1.0)
	viper.SetDefault("security.loginrateburst", 5)

	// mqtt settings
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "cybemeeting/meetings")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	// sentry settings, error tracking is strictly opt-in
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	// processing settings
	viper.SetDefault("processing.queuesize", 100)
	viper.SetDefault("processing.maxretries", 2)
	viper.SetDefault("processing.retrydelay", 30)
	viper.SetDefault("processing.maxretrydelay", 300)
	viper.SetDefault("processing.backoffmultiplier", 2.0)
}
