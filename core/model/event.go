package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownEvent   = errors.New("unknown job event")
	ErrMalformedEvent = errors.New("malformed job event")
)

type JobEventKind string

const (
	EventRender         JobEventKind = "render"
	EventImageCompleted JobEventKind = "image_completed"
	EventJobComplete    JobEventKind = "job_complete"
	EventError          JobEventKind = "error"
	EventRequestJob     JobEventKind = "request_job"
	EventRemove         JobEventKind = "remove"
)

// JobEvent is the single message exchanged over the jobs topic. Exactly one
// variant is carried per message, selected by Kind.
type JobEvent struct {
	Kind     JobEventKind `json:"kind"`
	Task     *Task        `json:"task,omitempty"`
	JobID    uuid.UUID    `json:"job_id"`
	Frame    int          `json:"frame,omitempty"`
	FileName string       `json:"file_name,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

func RenderEvent(task Task) JobEvent {
	return JobEvent{Kind: EventRender, Task: &task}
}

func ImageCompletedEvent(jobID uuid.UUID, frame int, fileName string) JobEvent {
	return JobEvent{Kind: EventImageCompleted, JobID: jobID, Frame: frame, FileName: fileName}
}

func JobCompleteEvent(jobID uuid.UUID) JobEvent {
	return JobEvent{Kind: EventJobComplete, JobID: jobID}
}

func ErrorEvent(reason string) JobEvent {
	return JobEvent{Kind: EventError, Reason: reason}
}

func RequestJobEvent() JobEvent {
	return JobEvent{Kind: EventRequestJob}
}

func RemoveEvent(jobID uuid.UUID) JobEvent {
	return JobEvent{Kind: EventRemove, JobID: jobID}
}

// Validate checks that the fields required by Kind are present.
func (e JobEvent) Validate() error {
	switch e.Kind {
	case EventRender:
		if e.Task == nil {
			return fmt.Errorf("%w: render without task", ErrMalformedEvent)
		}
		if e.Task.Range.Len() <= 0 {
			return fmt.Errorf("%w: empty task range %s", ErrMalformedEvent, e.Task.Range)
		}
	case EventImageCompleted:
		if e.JobID == uuid.Nil || e.FileName == "" {
			return fmt.Errorf("%w: image completed without job or file", ErrMalformedEvent)
		}
	case EventJobComplete, EventRemove:
		if e.JobID == uuid.Nil {
			return fmt.Errorf("%w: %s without job", ErrMalformedEvent, e.Kind)
		}
	case EventError, EventRequestJob:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Kind)
	}

	return nil
}

func (e JobEvent) String() string {
	switch e.Kind {
	case EventRender:
		if e.Task != nil {
			return fmt.Sprintf("render(job=%s range=%s)", e.Task.JobID, e.Task.Range)
		}
	case EventImageCompleted:
		return fmt.Sprintf("image_completed(job=%s frame=%d file=%s)", e.JobID, e.Frame, e.FileName)
	case EventError:
		return fmt.Sprintf("error(%s)", e.Reason)
	case EventJobComplete, EventRemove:
		return fmt.Sprintf("%s(job=%s)", e.Kind, e.JobID)
	}

	return string(e.Kind)
}
