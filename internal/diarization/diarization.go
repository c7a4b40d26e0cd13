// Package diarization splits a recording into speaker turns.
//
// The pyannote provider calls an external diarization server. When no server
// is configured or the call fails, a heuristic fallback based on the
// expected speaker count keeps the pipeline moving.
package diarization

import (
	"context"
	"math"
	"sort"
)

// Turn is one span of speech attributed to a single speaker.
type Turn struct {
	Speaker   string  `json:"speaker"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`
}

// Result holds the ordered speaker turns of a recording.
type Result struct {
	Turns   []Turn `json:"turns"`
	Service string `json:"service"` // which provider produced the result
}

// Speakers returns the distinct speaker labels in sorted order.
func (r *Result) Speakers() []string {
	seen := make(map[string]struct{})
	for _, turn := range r.Turns {
		seen[turn.Speaker] = struct{}{}
	}
	speakers := make([]string, 0, len(seen))
	for speaker := range seen {
		speakers = append(speakers, speaker)
	}
	sort.Strings(speakers)
	return speakers
}

// Diarizer produces speaker turns for an audio file. expectedSpeakers is a
// hint, zero means unknown.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, expectedSpeakers int) (Result, error)
}

// round2 rounds to two decimals, the precision used throughout timestamps.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// MergeShortTurns merges turns shorter than minDuration into the following
// turn when both belong to the same speaker.
func MergeShortTurns(turns []Turn, minDuration float64) []Turn {
	if len(turns) == 0 {
		return turns
	}

	merged := make([]Turn, 0, len(turns))
	current := turns[0]

	for _, next := range turns[1:] {
		if current.Speaker == next.Speaker && current.Duration < minDuration {
			current.EndTime = next.EndTime
			current.Duration = round2(current.EndTime - current.StartTime)
		} else {
			merged = append(merged, current)
			current = next
		}
	}

	return append(merged, current)
}

// SpeakerStats summarizes one speaker's share of the conversation.
type SpeakerStats struct {
	TotalDuration          float64 `json:"total_duration"`
	SegmentCount           int     `json:"segment_count"`
	Percentage             float64 `json:"percentage"`
	AverageSegmentDuration float64 `json:"average_segment_duration"`
}

// Statistics describes speaking time distribution across a recording.
type Statistics struct {
	Speakers      map[string]SpeakerStats `json:"speakers"`
	TotalSpeakers int                     `json:"total_speakers"`
	TotalDuration float64                 `json:"total_duration"`
}

// ComputeStatistics aggregates per speaker speaking time and share.
func ComputeStatistics(turns []Turn) Statistics {
	stats := Statistics{Speakers: make(map[string]SpeakerStats)}
	if len(turns) == 0 {
		return stats
	}

	var totalDuration float64
	for _, turn := range turns {
		s := stats.Speakers[turn.Speaker]
		s.TotalDuration += turn.Duration
		s.SegmentCount++
		stats.Speakers[turn.Speaker] = s
		totalDuration += turn.Duration
	}

	for speaker, s := range stats.Speakers {
		s.TotalDuration = round2(s.TotalDuration)
		if totalDuration > 0 {
			s.Percentage = math.Round(s.TotalDuration/totalDuration*1000) / 10
		}
		if s.SegmentCount > 0 {
			s.AverageSegmentDuration = round2(s.TotalDuration / float64(s.SegmentCount))
		}
		stats.Speakers[speaker] = s
	}

	stats.TotalSpeakers = len(stats.Speakers)
	stats.TotalDuration = round2(totalDuration)
	return stats
}
