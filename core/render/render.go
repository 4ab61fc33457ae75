// Package render invokes the external render engine for a task and reports
// its progress as a stream of statuses.
package render

import (
	"context"

	"github.com/pyropy/renderfarm/core/model"
)

type StatusKind string

const (
	Running   StatusKind = "running"
	Completed StatusKind = "completed"
	Error     StatusKind = "error"
)

// Status is one progress report. Completed carries the frame and the path of
// the saved image, Error carries Message and is always the last status.
type Status struct {
	Kind    StatusKind
	Frame   int
	Path    string
	Message string
}

// Renderer renders every frame of task from blendFile into outDir. The
// returned channel is closed when rendering ends or ctx is cancelled.
type Renderer interface {
	Render(ctx context.Context, task model.Task, blendFile, outDir string) <-chan Status
}
