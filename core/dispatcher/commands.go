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
	"github.com/pyropy/renderfarm/core/store"
	"github.com/pyropy/renderfarm/core/taskgen"
)

type command interface{ isCommand() }

type (
	startJobCmd struct {
		job   model.Job
		reply chan error
	}
	stopJobCmd struct {
		id    uuid.UUID
		reply chan error
	}
	removeJobCmd struct {
		id    uuid.UUID
		reply chan error
	}
	uploadFileCmd struct {
		path  string
		name  string
		reply chan error
	}
	jobStatusCmd struct {
		id    uuid.UUID
		reply chan statusResult
	}
	livePeersCmd struct {
		reply chan []peer.ID
	}
	// imageFetchedCmd reports the outcome of a fetchImage goroutine.
	imageFetchedCmd struct {
		jobID uuid.UUID
		frame int
		from  peer.ID
		path  string
		err   error
	}
)

type statusResult struct {
	status Status
	err    error
}

func (startJobCmd) isCommand()     {}
func (stopJobCmd) isCommand()      {}
func (removeJobCmd) isCommand()    {}
func (uploadFileCmd) isCommand()   {}
func (jobStatusCmd) isCommand()    {}
func (livePeersCmd) isCommand()    {}
func (imageFetchedCmd) isCommand() {}

func (d *Dispatcher) handleCommand(ctx context.Context, cmd command) {
	switch cmd := cmd.(type) {
	case startJobCmd:
		cmd.reply <- d.startJob(ctx, cmd.job)
	case stopJobCmd:
		cmd.reply <- d.stopJob(ctx, cmd.id)
	case removeJobCmd:
		cmd.reply <- d.removeJob(ctx, cmd.id)
	case uploadFileCmd:
		cmd.reply <- d.uploadFile(cmd.path, cmd.name)
	case jobStatusCmd:
		status, err := d.jobStatus(cmd.id)
		cmd.reply <- statusResult{status: status, err: err}
	case livePeersCmd:
		cmd.reply <- d.peers.ids()
	case imageFetchedCmd:
		d.onImageFetched(ctx, cmd)
	}
}

func (d *Dispatcher) startJob(ctx context.Context, job model.Job) error {
	if _, exists := d.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	if _, exists := d.finished[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	if _, err := os.Stat(job.Path); err != nil {
		return fmt.Errorf("scene file: %w", err)
	}

	fileName := filepath.Base(job.Path)
	tasks, err := taskgen.GenerateTasks(job, fileName, d.chunkSize, d.net.ID())
	if err != nil {
		return err
	}

	if err := d.stores.Jobs.Add(ctx, job); err != nil {
		d.storeError("add job", err)
		return fmt.Errorf("store job: %w", err)
	}

	d.net.StartProviding(fileName, job.Path)

	for _, t := range tasks {
		if err := d.stores.Tasks.Add(ctx, t); err != nil {
			d.storeError("add task", err)
		}
	}

	d.jobs[job.ID] = newJobState(job, fileName, tasks)
	d.pending = append(d.pending, tasks...)

	d.log.Infow("dispatcher", "event", "job started", "job", job.ID, "mode", job.Mode.String(), "tasks", len(tasks))
	return nil
}

func (d *Dispatcher) stopJob(ctx context.Context, id uuid.UUID) error {
	js, active := d.jobs[id]
	if !active {
		if _, exists := d.finished[id]; exists {
			return fmt.Errorf("%w: %s", ErrJobInactive, id)
		}
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if js.failed != "" {
		return fmt.Errorf("%w: %s", ErrJobInactive, id)
	}
	if js.stopped {
		return nil
	}

	js.stopped = true
	d.dropPending(ctx, id)
	d.notify(Notification{Kind: JobStopped, JobID: id})
	d.log.Infow("dispatcher", "event", "job stopped", "job", id)

	d.finish(ctx, js)
	return nil
}

func (d *Dispatcher) removeJob(ctx context.Context, id uuid.UUID) error {
	_, active := d.jobs[id]
	status, finished := d.finished[id]
	if !active && !finished {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if status == StatusRemoved {
		return nil
	}

	d.net.BroadcastJobMessage(model.RemoveEvent(id))

	if active {
		d.dropPending(ctx, id)
		delete(d.jobs, id)
	}
	d.finished[id] = StatusRemoved
	d.notify(Notification{Kind: JobRemoved, JobID: id})
	d.log.Infow("dispatcher", "event", "job removed", "job", id)

	if err := d.stores.Tasks.DeleteForJob(ctx, id); err != nil {
		d.storeError("delete job tasks", err)
		return fmt.Errorf("delete job tasks: %w", err)
	}

	if err := d.stores.Jobs.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.storeError("delete job", err)
		return fmt.Errorf("delete job: %w", err)
	}

	return nil
}

func (d *Dispatcher) uploadFile(path, name string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}

	if name == "" {
		name = filepath.Base(path)
	}

	d.net.StartProviding(name, path)
	d.log.Infow("dispatcher", "event", "file uploaded", "name", name, "path", path)
	return nil
}

func (d *Dispatcher) jobStatus(id uuid.UUID) (Status, error) {
	if js, active := d.jobs[id]; active {
		return d.status(js), nil
	}

	if status, exists := d.finished[id]; exists {
		return status, nil
	}

	return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

func (d *Dispatcher) onImageFetched(ctx context.Context, cmd imageFetchedCmd) {
	js, active := d.jobs[cmd.jobID]
	if !active {
		d.log.Infow("dispatcher", "event", "discarding image of inactive job", "job", cmd.jobID, "frame", cmd.frame)
		return
	}
	js.fetching--

	if js.failed != "" {
		d.finish(ctx, js)
		return
	}

	if cmd.err != nil {
		d.fail(ctx, js, fmt.Sprintf("fetch frame %d from %s: %v", cmd.frame, cmd.from, cmd.err))
		return
	}

	if _, stored := js.stored[cmd.frame]; !stored {
		js.stored[cmd.frame] = struct{}{}

		info := model.RenderInfo{JobID: cmd.jobID, Frame: cmd.frame, Path: cmd.path}
		if _, err := d.stores.Renders.Create(ctx, info); err != nil {
			d.storeError("create render", err)
		}
	}

	d.notify(Notification{Kind: ImageComplete, Peer: cmd.from, JobID: cmd.jobID, Frame: cmd.frame, Path: cmd.path})
	d.finish(ctx, js)
}
