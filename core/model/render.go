package model

import (
	"time"

	"github.com/google/uuid"
)

// RenderInfo locates a rendered frame on local disk.
type RenderInfo struct {
	JobID uuid.UUID `json:"job_id"`
	Frame int       `json:"frame"`
	Path  string    `json:"path"`
}

type Render struct {
	ID uuid.UUID `json:"id"`
	RenderInfo
	CreatedAt time.Time `json:"created_at"`
}
