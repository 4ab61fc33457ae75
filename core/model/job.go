package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidRange = errors.New("invalid frame range")
)

// Mode selects which frames of a scene a job renders.
type Mode struct {
	Animation bool `json:"animation"`
	Frame     int  `json:"frame,omitempty"`
	Start     int  `json:"start,omitempty"`
	End       int  `json:"end,omitempty"`
}

// Frame is a single frame render of frame n.
func Frame(n int) Mode {
	return Mode{Frame: n}
}

// Animation renders frames in [start, end).
func Animation(start, end int) Mode {
	return Mode{Animation: true, Start: start, End: end}
}

// Range resolves the mode to its configured bounds. A single frame n resolves
// to (n, n).
func (m Mode) Range() (int, int) {
	if !m.Animation {
		return m.Frame, m.Frame
	}

	return m.Start, m.End
}

func (m Mode) Validate() error {
	start, end := m.Range()
	if end < start {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, end, start)
	}

	return nil
}

func (m Mode) String() string {
	if !m.Animation {
		return fmt.Sprintf("frame(%d)", m.Frame)
	}

	return fmt.Sprintf("animation(%d..%d)", m.Start, m.End)
}

// Job is an operator's request to render a scene file.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Path      string    `json:"path"`
	OutputDir string    `json:"output_dir"`
	Mode      Mode      `json:"mode"`
	Version   string    `json:"version"`
}

func NewJob(path, outputDir string, mode Mode, version string) Job {
	return Job{
		ID:        uuid.New(),
		Path:      path,
		OutputDir: outputDir,
		Mode:      mode,
		Version:   version,
	}
}

// Frames returns the number of frames the job produces once split into tasks.
func (j Job) Frames() int {
	start, end := j.Mode.Range()
	if end <= start {
		return 1
	}

	return end - start
}
