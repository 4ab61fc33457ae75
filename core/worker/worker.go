// Package worker is the render side of the job protocol. It queues tasks
// addressed to this peer, fetches their scene files and reports rendered
// frames back to the requesting peer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/config"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/core/network"
	"github.com/pyropy/renderfarm/core/render"
	"github.com/pyropy/renderfarm/core/store"
	"github.com/pyropy/renderfarm/lib/cache"
	"github.com/pyropy/renderfarm/lib/cmap"
	"go.uber.org/zap"
)

var (
	ErrNoProvider = errors.New("no provider served the file")
)

// Network is the part of the network controller a worker drives.
type Network interface {
	Events() <-chan network.Event
	StartProviding(fileName, path string)
	ProvidedPath(fileName string) (string, bool)
	GetProviders(ctx context.Context, fileName string) ([]peer.ID, error)
	RequestFile(ctx context.Context, p peer.ID, fileName string) ([]byte, error)
	RespondFile(h *network.ResponseHandle, data []byte)
	RespondError(h *network.ResponseHandle, reason string)
	SendJobMessage(p peer.ID, ev model.JobEvent)
	PublishStatus(text string)
}

type Options struct {
	CacheDir       string
	RenderDir      string
	StatusInterval time.Duration
	// CacheEntries bounds the in-memory index of fetched scene files.
	CacheEntries int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CacheDir:       cfg.Worker.CacheDir,
		RenderDir:      cfg.Worker.RenderDir,
		StatusInterval: cfg.Worker.StatusInterval,
		CacheEntries:   32,
	}
}

type Worker struct {
	net      Network
	tasks    store.TaskStore
	renderer render.Renderer
	opts     Options
	log      *zap.SugaredLogger

	// scenes maps cache keys to local scene paths. Only the render loop
	// touches it.
	scenes  *cache.LRU[string, string]
	removed *cmap.Map[uuid.UUID, time.Time]
	wake    chan struct{}

	// mu guards current and queued. queued maps jobs with a task waiting in
	// the task store to the peer that requested it.
	mu      sync.Mutex
	current *running
	queued  map[uuid.UUID]peer.ID
}

type running struct {
	task   model.Task
	frame  int
	cancel context.CancelFunc
}

func New(net Network, tasks store.TaskStore, renderer render.Renderer, opts Options, log *zap.SugaredLogger) *Worker {
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = 32
	}

	return &Worker{
		net:      net,
		tasks:    tasks,
		renderer: renderer,
		opts:     opts,
		log:      log,
		scenes:   cache.NewLRU[string, string](opts.CacheEntries),
		removed:  cmap.NewMap[uuid.UUID, time.Time](),
		wake:     make(chan struct{}, 1),
		queued:   make(map[uuid.UUID]peer.ID),
	}
}

// Run handles network events and renders queued tasks until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.discardQueued(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.renderLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.StartStatusMonitor(ctx)
	}()
	defer wg.Wait()

	events := w.net.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// discardQueued drops tasks left over from a previous run. Their requestors
// no longer hold them as outstanding.
func (w *Worker) discardQueued(ctx context.Context) {
	dropped := 0
	for {
		task, err := w.tasks.PollNext(ctx)
		if err != nil {
			w.log.Errorw("worker", "event", "poll stale task", "error", err)
			return
		}
		if task == nil {
			break
		}
		if err := w.tasks.Delete(ctx, task.ID); err != nil {
			w.log.Errorw("worker", "event", "delete stale task", "task", task.ID, "error", err)
			return
		}
		dropped++
	}

	if dropped > 0 {
		w.log.Infow("worker", "status", "dropped stale tasks", "count", dropped)
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev network.Event) {
	switch ev := ev.(type) {
	case network.JobUpdate:
		w.onJobEvent(ctx, ev.From, ev.Event)
	case network.InboundRequest:
		// reading the file can block; job events keep flowing meanwhile
		go func() {
			if err := network.AnswerFromDisk(w.net, ev); err != nil {
				w.log.Warnw("exchange", "event", "inbound request failed", "peer", ev.From, "file", ev.FileName, "error", err)
			}
		}()
	}
}

func (w *Worker) onJobEvent(ctx context.Context, from peer.ID, ev model.JobEvent) {
	switch ev.Kind {
	case model.EventRender:
		task := *ev.Task
		if task.Requestor == "" {
			task.Requestor = from
		}

		if err := w.tasks.Add(ctx, task); err != nil {
			w.log.Errorw("worker", "event", "queue task", "task", task.ID, "error", err)
			w.net.SendJobMessage(task.Requestor, model.ErrorEvent(fmt.Sprintf("queue task: %v", err)))
			return
		}
		w.mu.Lock()
		w.queued[task.JobID] = task.Requestor
		w.mu.Unlock()

		w.log.Infow("worker", "event", "task queued", "job", task.JobID, "range", task.Range.String())
		w.signal()

	case model.EventRemove:
		w.removeJob(ctx, ev.JobID)

	case model.EventJobComplete:
		w.log.Infow("worker", "event", "job complete", "job", ev.JobID)

	default:
		w.log.Debugw("worker", "event", "ignoring job event", "peer", from, "kind", ev.Kind)
	}
}

// removeJob drops the job's queued tasks and cancels its running task. The
// requestor is told this peer is free again in both cases.
func (w *Worker) removeJob(ctx context.Context, jobID uuid.UUID) {
	w.mu.Lock()
	w.removed.Set(jobID, time.Now())
	cur := w.current
	requestor, queued := w.queued[jobID]
	delete(w.queued, jobID)
	w.mu.Unlock()

	if err := w.tasks.DeleteForJob(ctx, jobID); err != nil {
		w.log.Errorw("worker", "event", "drop job tasks", "job", jobID, "error", err)
	}

	switch {
	case cur != nil && cur.task.JobID == jobID:
		w.log.Infow("worker", "event", "cancelling task", "job", jobID, "range", cur.task.Range.String())
		cur.cancel()
	case queued:
		w.log.Infow("worker", "event", "dropped queued task", "job", jobID)
		w.net.SendJobMessage(requestor, model.RequestJobEvent())
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// renderLoop renders queued tasks one at a time in arrival order.
func (w *Worker) renderLoop(ctx context.Context) {
	for {
		task, err := w.tasks.PollNext(ctx)
		if err != nil {
			w.log.Errorw("worker", "event", "poll task", "error", err)
		}

		if task == nil {
			select {
			case <-w.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		w.runTask(ctx, *task)

		if err := w.tasks.Delete(ctx, task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			w.log.Errorw("worker", "event", "delete task", "task", task.ID, "error", err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task model.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !w.claim(task, cancel) {
		w.log.Infow("worker", "event", "skipping task of removed job", "job", task.JobID)
		return
	}
	defer w.setCurrent(nil)

	scene, err := w.ensureScene(taskCtx, task)
	if err != nil {
		w.finishTask(ctx, taskCtx, task, fmt.Sprintf("fetch scene %s: %v", task.FileName, err))
		return
	}

	outDir := filepath.Join(w.opts.RenderDir, task.JobID.String())
	reason := ""
	for st := range w.renderer.Render(taskCtx, task, scene, outDir) {
		switch st.Kind {
		case render.Running:
			w.setFrame(st.Frame)
			w.net.PublishStatus(st.Message)
		case render.Completed:
			name := filepath.Base(st.Path)
			w.net.StartProviding(name, st.Path)
			w.net.SendJobMessage(task.Requestor, model.ImageCompletedEvent(task.JobID, st.Frame, name))
			w.log.Infow("worker", "event", "frame rendered", "job", task.JobID, "frame", st.Frame, "path", st.Path)
		case render.Error:
			reason = st.Message
		}
	}

	w.finishTask(ctx, taskCtx, task, reason)
}

// finishTask reports a failure to the requestor. A task cancelled by Remove
// asks for new work instead, which frees this peer at the dispatcher.
func (w *Worker) finishTask(ctx, taskCtx context.Context, task model.Task, reason string) {
	switch {
	case ctx.Err() != nil:
	case taskCtx.Err() != nil:
		w.net.SendJobMessage(task.Requestor, model.RequestJobEvent())
		w.log.Infow("worker", "event", "task cancelled", "job", task.JobID, "range", task.Range.String())
	case reason != "":
		w.net.SendJobMessage(task.Requestor, model.ErrorEvent(reason))
		w.log.Warnw("worker", "event", "task failed", "job", task.JobID, "range", task.Range.String(), "reason", reason)
	}
}

// claim makes task the running task unless its job was removed.
func (w *Worker) claim(task model.Task, cancel context.CancelFunc) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, removed := w.removed.Get(task.JobID); removed {
		return false
	}

	delete(w.queued, task.JobID)
	w.current = &running{task: task, frame: task.Range.Start, cancel: cancel}
	return true
}

func (w *Worker) setCurrent(r *running) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = r
}

func (w *Worker) setFrame(frame int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		w.current.frame = frame
	}
}

// Describe summarises what the worker is doing.
func (w *Worker) Describe() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return "idle"
	}

	return fmt.Sprintf("rendering job %s frame %d of %s", w.current.task.JobID, w.current.frame, w.current.task.Range)
}
