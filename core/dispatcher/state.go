package dispatcher

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDispatching Status = "dispatching"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusStopped     Status = "stopped"
	StatusRemoved     Status = "removed"
)

// Terminal reports whether no further task of the job will be dispatched or
// accepted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRemoved:
		return true
	}

	return false
}

type NotificationKind string

const (
	NodeDiscovered   NotificationKind = "node_discovered"
	NodeIdentity     NotificationKind = "node_identity"
	NodeDisconnected NotificationKind = "node_disconnected"
	FrameUpdate      NotificationKind = "frame_update"
	ImageComplete    NotificationKind = "image_complete"
	JobComplete      NotificationKind = "job_complete"
	JobFailed        NotificationKind = "job_failed"
	JobStopped       NotificationKind = "job_stopped"
	JobRemoved       NotificationKind = "job_removed"
	Error            NotificationKind = "error"
)

// Notification is emitted to the operator facing surface. Fields not related
// to Kind are zero.
type Notification struct {
	Kind    NotificationKind
	Peer    peer.ID
	Spec    *model.ComputerSpec
	JobID   uuid.UUID
	Frame   int
	Path    string
	Message string
}

func (n Notification) String() string {
	switch n.Kind {
	case NodeDiscovered, NodeIdentity:
		if n.Spec != nil {
			return fmt.Sprintf("%s %s (%s, %d cores)", n.Kind, n.Peer, n.Spec.Host, n.Spec.Cores)
		}
		return fmt.Sprintf("%s %s", n.Kind, n.Peer)
	case NodeDisconnected:
		return fmt.Sprintf("%s %s", n.Kind, n.Peer)
	case FrameUpdate:
		return fmt.Sprintf("%s %s: %s", n.Kind, n.Peer, n.Message)
	case ImageComplete:
		return fmt.Sprintf("%s job=%s frame=%d path=%s", n.Kind, n.JobID, n.Frame, n.Path)
	case JobComplete, JobStopped, JobRemoved:
		return fmt.Sprintf("%s job=%s", n.Kind, n.JobID)
	case JobFailed:
		return fmt.Sprintf("%s job=%s: %s", n.Kind, n.JobID, n.Message)
	}

	return fmt.Sprintf("%s: %s", n.Kind, n.Message)
}

// assignment is a task held by a worker together with the frames it has not
// reported yet.
type assignment struct {
	task      model.Task
	remaining map[int]struct{}
}

func newAssignment(task model.Task) *assignment {
	remaining := make(map[int]struct{}, task.Range.Len())
	for f := task.Range.Start; f < task.Range.End; f++ {
		remaining[f] = struct{}{}
	}

	return &assignment{task: task, remaining: remaining}
}

// jobState is the dispatch bookkeeping of one active job.
type jobState struct {
	job    model.Job
	file   string
	frames map[int]struct{}
	stored map[int]struct{}

	// pending counts tasks not handed out yet, fetching counts images being
	// copied from workers.
	pending  int
	fetching int

	stopped bool
	failed  string
}

func newJobState(job model.Job, file string, tasks []model.Task) *jobState {
	js := &jobState{
		job:     job,
		file:    file,
		frames:  make(map[int]struct{}),
		stored:  make(map[int]struct{}),
		pending: len(tasks),
	}

	for _, t := range tasks {
		for f := t.Range.Start; f < t.Range.End; f++ {
			js.frames[f] = struct{}{}
		}
	}

	return js
}

func (js *jobState) hasFrame(frame int) bool {
	_, ok := js.frames[frame]
	return ok
}

func (js *jobState) done() bool {
	return len(js.stored) == len(js.frames)
}
