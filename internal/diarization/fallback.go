package diarization

import (
	"context"
	"fmt"
)

// FallbackDiarizer produces evenly sized alternating speaker turns from the
// recording duration alone. Used when no diarization server is configured
// or the server call failed. Keeps the pipeline completing with a usable,
// if approximate, transcript.
type FallbackDiarizer struct {
	// DurationFn returns the duration of the audio file in seconds.
	DurationFn func(ctx context.Context, audioPath string) (float64, error)
}

// Diarize splits the recording into alternating turns, at least four,
// scaled with the expected speaker count.
func (d *FallbackDiarizer) Diarize(ctx context.Context, audioPath string, expectedSpeakers int) (Result, error) {
	duration := 60.0
	if d.DurationFn != nil {
		if probed, err := d.DurationFn(ctx, audioPath); err == nil && probed > 0 {
			duration = probed
		}
	}

	if expectedSpeakers <= 0 {
		expectedSpeakers = 2
	}

	segmentCount := expectedSpeakers * 2
	if segmentCount < 4 {
		segmentCount = 4
	}
	segmentDuration := duration / float64(segmentCount)

	var turns []Turn
	currentTime := 0.0
	speakerIndex := 0

	for currentTime < duration {
		endTime := currentTime + segmentDuration
		if endTime > duration {
			endTime = duration
		}

		turns = append(turns, Turn{
			Speaker:   fmt.Sprintf("SPEAKER_%d", speakerIndex),
			StartTime: round2(currentTime),
			EndTime:   round2(endTime),
			Duration:  round2(endTime - currentTime),
		})

		currentTime = endTime
		speakerIndex = (speakerIndex + 1) % expectedSpeakers
	}

	return Result{Turns: turns, Service: "fallback"}, nil
}
