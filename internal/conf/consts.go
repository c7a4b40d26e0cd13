// consts.go: shared constants for the conf package.
package conf

// RotationType defines a log rotation strategy.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

const (
	// DefaultChunkSeconds is the chunk length used when an upload exceeds
	// the transcription API size cap.
	DefaultChunkSeconds = 600

	// DefaultMaxUploadBytes is the transcription API upload cap.
	DefaultMaxUploadBytes = 25 * 1024 * 1024
)
