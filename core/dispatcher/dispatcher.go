// Package dispatcher runs the job dispatch loop of the operator instance. It
// owns the live peer map and the outstanding task set; both are mutated only
// from inside Run.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/core/network"
	"github.com/pyropy/renderfarm/core/store"
	"github.com/pyropy/renderfarm/core/taskgen"
	"github.com/pyropy/renderfarm/lib/queue"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job exists")
	ErrJobInactive = errors.New("job is not active")
	ErrStopped     = errors.New("dispatcher stopped")
)

// Network is the part of the network controller the dispatcher drives.
type Network interface {
	ID() peer.ID
	Events() <-chan network.Event
	StartProviding(fileName, path string)
	ProvidedPath(fileName string) (string, bool)
	RequestFile(ctx context.Context, p peer.ID, fileName string) ([]byte, error)
	RespondFile(h *network.ResponseHandle, data []byte)
	RespondError(h *network.ResponseHandle, reason string)
	SendJobMessage(p peer.ID, ev model.JobEvent)
	BroadcastJobMessage(ev model.JobEvent)
}

type Dispatcher struct {
	net       Network
	stores    *store.Stores
	chunkSize int
	log       *zap.SugaredLogger

	commands      *queue.Unbounded[command]
	notifications *queue.Unbounded[Notification]
	done          chan struct{}

	peers       *peerSet
	outstanding map[peer.ID]*assignment
	pending     []model.Task
	jobs        map[uuid.UUID]*jobState
	finished    map[uuid.UUID]Status
}

func New(net Network, stores *store.Stores, chunkSize int, log *zap.SugaredLogger) (*Dispatcher, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", taskgen.ErrInvalidChunkSize, chunkSize)
	}

	return &Dispatcher{
		net:           net,
		stores:        stores,
		chunkSize:     chunkSize,
		log:           log,
		commands:      queue.NewUnbounded[command](),
		notifications: queue.NewUnbounded[Notification](),
		done:          make(chan struct{}),
		peers:         newPeerSet(),
		outstanding:   make(map[peer.ID]*assignment),
		jobs:          make(map[uuid.UUID]*jobState),
		finished:      make(map[uuid.UUID]Status),
	}, nil
}

// Notifications yields operator facing events in the order they happened.
func (d *Dispatcher) Notifications() <-chan Notification {
	return d.notifications.Out()
}

// Run is the dispatch loop. It selects over local commands and the network
// event stream until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	if err := d.stores.Workers.Clear(ctx); err != nil {
		d.storeError("clear workers", err)
	}

	events := d.net.Events()
	for {
		select {
		case cmd := <-d.commands.Out():
			d.handleCommand(ctx, cmd)
		case ev, ok := <-events:
			if !ok {
				d.log.Infow("dispatcher", "status", "network event stream closed")
				return nil
			}
			d.handleEvent(ctx, ev)
		case <-ctx.Done():
			d.log.Infow("dispatcher", "status", "stopped")
			return nil
		}

		d.dispatch(ctx)
	}
}

// StartJob generates the tasks of job, advertises its scene file and queues
// the tasks for dispatch.
func (d *Dispatcher) StartJob(ctx context.Context, job model.Job) error {
	reply := make(chan error, 1)
	return d.call(ctx, startJobCmd{job: job, reply: reply}, reply)
}

// StopJob withholds the job's tasks that were not dispatched yet. Tasks held
// by workers finish normally.
func (d *Dispatcher) StopJob(ctx context.Context, id uuid.UUID) error {
	reply := make(chan error, 1)
	return d.call(ctx, stopJobCmd{id: id, reply: reply}, reply)
}

// RemoveJob broadcasts Remove to all peers and forgets the job.
func (d *Dispatcher) RemoveJob(ctx context.Context, id uuid.UUID) error {
	reply := make(chan error, 1)
	return d.call(ctx, removeJobCmd{id: id, reply: reply}, reply)
}

// UploadFile advertises the local file at path under name.
func (d *Dispatcher) UploadFile(ctx context.Context, path, name string) error {
	reply := make(chan error, 1)
	return d.call(ctx, uploadFileCmd{path: path, name: name, reply: reply}, reply)
}

func (d *Dispatcher) JobStatus(ctx context.Context, id uuid.UUID) (Status, error) {
	reply := make(chan statusResult, 1)
	if err := d.push(ctx, jobStatusCmd{id: id, reply: reply}); err != nil {
		return "", err
	}

	select {
	case r := <-reply:
		return r.status, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
		return "", ErrStopped
	}
}

// LivePeers returns the peers currently in the live peer map, in discovery
// order.
func (d *Dispatcher) LivePeers(ctx context.Context) ([]peer.ID, error) {
	reply := make(chan []peer.ID, 1)
	if err := d.push(ctx, livePeersCmd{reply: reply}); err != nil {
		return nil, err
	}

	select {
	case peers := <-reply:
		return peers, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrStopped
	}
}

func (d *Dispatcher) push(ctx context.Context, cmd command) error {
	select {
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.commands.Push(cmd)
	return nil
}

func (d *Dispatcher) call(ctx context.Context, cmd command, reply chan error) error {
	if err := d.push(ctx, cmd); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrStopped
	}
}

func (d *Dispatcher) notify(n Notification) {
	d.notifications.Push(n)
}

func (d *Dispatcher) storeError(op string, err error) {
	d.log.Errorw("store", "event", op, "error", err)
	d.notify(Notification{Kind: Error, Message: fmt.Sprintf("%s: %v", op, err)})
}

// busy reports whether p holds an outstanding task.
func (d *Dispatcher) busy(p peer.ID) bool {
	_, ok := d.outstanding[p]
	return ok
}

// dispatch hands pending tasks to idle peers in generation order. It returns
// as soon as no peer is idle; the loop resumes it after the next event.
func (d *Dispatcher) dispatch(ctx context.Context) {
	for len(d.pending) > 0 {
		p, ok := d.peers.selectIdle(d.busy)
		if !ok {
			return
		}

		task := d.pending[0]
		d.pending = d.pending[1:]

		js, active := d.jobs[task.JobID]
		if !active {
			continue
		}
		js.pending--

		d.outstanding[p] = newAssignment(task)
		d.peers.markAssigned(p)
		d.net.SendJobMessage(p, model.RenderEvent(task))
		d.log.Infow("dispatcher", "event", "task assigned", "job", task.JobID, "range", task.Range.String(), "peer", p)
	}
}

// status infers the status of an active job from its outstanding tasks.
func (d *Dispatcher) status(js *jobState) Status {
	switch {
	case js.failed != "":
		return StatusFailed
	case js.stopped:
		return StatusStopped
	case d.outstandingFor(js.job.ID) > 0:
		return StatusRunning
	case js.pending > 0:
		return StatusDispatching
	case len(js.frames) == 0:
		return StatusQueued
	}

	return StatusRunning
}

func (d *Dispatcher) outstandingFor(jobID uuid.UUID) int {
	n := 0
	for _, a := range d.outstanding {
		if a.task.JobID == jobID {
			n++
		}
	}

	return n
}

// dropPending removes the job's tasks that were not dispatched yet.
func (d *Dispatcher) dropPending(ctx context.Context, jobID uuid.UUID) {
	kept := d.pending[:0]
	for _, t := range d.pending {
		if t.JobID != jobID {
			kept = append(kept, t)
			continue
		}
		if err := d.stores.Tasks.Delete(ctx, t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			d.storeError("delete task", err)
		}
	}

	d.pending = kept
	if js, ok := d.jobs[jobID]; ok {
		js.pending = 0
	}
}

// finish moves an active job to its terminal status once nothing of it is
// held by workers.
func (d *Dispatcher) finish(ctx context.Context, js *jobState) {
	if d.outstandingFor(js.job.ID) > 0 || js.fetching > 0 {
		return
	}

	switch {
	case js.failed != "":
		d.finished[js.job.ID] = StatusFailed
	case js.stopped:
		d.finished[js.job.ID] = StatusStopped
	case js.pending == 0 && js.done():
		d.finished[js.job.ID] = StatusCompleted
		d.net.BroadcastJobMessage(model.JobCompleteEvent(js.job.ID))
		d.notify(Notification{Kind: JobComplete, JobID: js.job.ID})
		d.log.Infow("dispatcher", "event", "job complete", "job", js.job.ID, "frames", len(js.stored))
	default:
		return
	}

	delete(d.jobs, js.job.ID)
	if err := d.stores.Tasks.DeleteForJob(ctx, js.job.ID); err != nil {
		d.storeError("delete job tasks", err)
	}
}

// fail marks the job failed and withholds its remaining tasks. Failures are
// not retried.
func (d *Dispatcher) fail(ctx context.Context, js *jobState, reason string) {
	if js.failed != "" {
		d.finish(ctx, js)
		return
	}

	js.failed = reason
	d.dropPending(ctx, js.job.ID)
	d.notify(Notification{Kind: JobFailed, JobID: js.job.ID, Message: reason})
	d.log.Warnw("dispatcher", "event", "job failed", "job", js.job.ID, "reason", reason)
	d.finish(ctx, js)
}

// fetchImage copies a rendered frame from the worker into the job's output
// directory and reports the outcome back to the loop.
func (d *Dispatcher) fetchImage(ctx context.Context, from peer.ID, js *jobState, ev model.JobEvent) {
	outDir := js.job.OutputDir
	jobID := js.job.ID
	js.fetching++

	go func() {
		result := imageFetchedCmd{jobID: jobID, frame: ev.Frame, from: from}

		data, err := d.net.RequestFile(ctx, from, ev.FileName)
		if err == nil {
			result.path = filepath.Join(outDir, filepath.Base(ev.FileName))
			err = writeImage(outDir, result.path, data)
		}
		result.err = err

		select {
		case <-d.done:
		default:
			d.commands.Push(result)
		}
	}()
}

func writeImage(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	return nil
}
