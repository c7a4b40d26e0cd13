// Package analysis extracts structured meeting reports from transcripts
// using a chat completion model.
package analysis

import (
	"context"

	"github.com/cybeform/cybemeeting/internal/transcription"
)

// Metadata carries the meeting context injected into the analysis prompt.
type Metadata struct {
	ProjectName      string
	Title            string
	Date             string
	DurationMinutes  int
	ExpectedSpeakers int
	Participants     []string
	AIInstructions   string
}

// Analyzer produces a structured analysis of an aligned transcript.
// The result is a JSON-compatible map with the sectionsDynamiques layout
// consumed by the report generator.
type Analyzer interface {
	Analyze(ctx context.Context, segments []transcription.AlignedSegment, meta Metadata) (map[string]any, error)
}
