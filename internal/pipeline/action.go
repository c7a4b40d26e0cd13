package pipeline

import (
	"context"
	"fmt"

	"github.com/cybeform/cybemeeting/internal/jobqueue"
)

// meetingAction adapts a pipeline run to the job queue.
type meetingAction struct {
	processor *Processor
	request   Request
}

// NewAction wraps a meeting run as a queueable action.
func NewAction(processor *Processor, request Request) jobqueue.Action {
	return &meetingAction{processor: processor, request: request}
}

func (a *meetingAction) Execute(ctx context.Context, _ any) error {
	return a.processor.Run(ctx, a.request)
}

func (a *meetingAction) Description() string {
	return fmt.Sprintf("process-meeting %s", a.request.MeetingPublicID)
}
