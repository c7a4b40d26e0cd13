// Package transcription turns recordings into timed text segments.
package transcription

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cybeform/cybemeeting/internal/diarization"
)

// Segment is one timed span of transcribed text.
type Segment struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result holds the transcription of a recording.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Service  string    `json:"service"` // which backend produced the result
}

// Service transcribes an audio file.
type Service interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}

// AlignedSegment is a speaker turn with its transcribed text.
type AlignedSegment struct {
	Speaker   string  `json:"speaker"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
	Text      string  `json:"text"`
}

// Align attributes transcription text to speaker turns. For each turn, the
// texts of all overlapping transcription segments are concatenated. Turns
// with no overlapping text get a French placeholder.
func Align(transcription *Result, turns []diarization.Turn) []AlignedSegment {
	aligned := make([]AlignedSegment, 0, len(turns))

	for _, turn := range turns {
		var overlapping []string
		for _, seg := range transcription.Segments {
			if seg.StartTime < turn.EndTime && seg.EndTime > turn.StartTime {
				overlapping = append(overlapping, seg.Text)
			}
		}

		text := strings.TrimSpace(strings.Join(overlapping, " "))
		if text == "" {
			text = "[Aucun texte détecté]"
		}

		aligned = append(aligned, AlignedSegment{
			Speaker:   turn.Speaker,
			StartTime: turn.StartTime,
			EndTime:   turn.EndTime,
			Duration:  turn.Duration,
			Text:      text,
		})
	}

	return aligned
}

// CleanText normalizes whitespace and French punctuation spacing.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = strings.Join(strings.Fields(text), " ")

	replacements := [][2]string{
		{" , ", ", "},
		{" . ", ". "},
		{" ? ", "? "},
		{" ! ", "! "},
		{" : ", ": "},
		{" ; ", "; "},
	}
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r[0], r[1])
	}

	return strings.TrimSpace(text)
}

// Fallback builds a placeholder transcription from the recording duration
// when no transcription backend is available. One segment per ten seconds.
func Fallback(duration float64) Result {
	if duration <= 0 {
		duration = 60.0
	}

	numSegments := int(duration / 10)
	if numSegments < 1 {
		numSegments = 1
	}
	segmentDuration := duration / float64(numSegments)

	segments := make([]Segment, 0, numSegments)
	for i := 0; i < numSegments; i++ {
		start := float64(i) * segmentDuration
		end := start + segmentDuration
		if end > duration {
			end = duration
		}
		segments = append(segments, Segment{
			StartTime: round2(start),
			EndTime:   round2(end),
			Text:      fmt.Sprintf("[Segment %d - Transcription non disponible]", i+1),
		})
	}

	return Result{
		Text:     "[Transcription automatique non disponible - Veuillez configurer OpenAI API ou vérifier le service de transcription]",
		Language: "fr",
		Segments: segments,
		Service:  "fallback",
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
