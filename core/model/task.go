package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Range is a half-open frame interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) Contains(frame int) bool {
	return frame >= r.Start && frame < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Task is a bounded piece of a job handed to a single worker.
type Task struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Requestor peer.ID   `json:"requestor,omitempty"`
	FileName  string    `json:"file_name"`
	Version   string    `json:"version"`
	Range     Range     `json:"range"`
}
