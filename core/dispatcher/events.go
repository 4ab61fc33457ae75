package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/core/network"
	"github.com/pyropy/renderfarm/core/store"
)

func (d *Dispatcher) handleEvent(ctx context.Context, ev network.Event) {
	switch ev := ev.(type) {
	case network.NodeDiscovered:
		d.onNodeDiscovered(ctx, ev)
	case network.NodeDisconnected:
		d.onNodeDisconnected(ctx, ev.Peer)
	case network.InboundRequest:
		// served off the loop so a slow disk read cannot stall commands
		go func() {
			if err := network.AnswerFromDisk(d.net, ev); err != nil {
				d.log.Warnw("exchange", "event", "inbound request failed", "peer", ev.From, "file", ev.FileName, "error", err)
				d.notify(Notification{Kind: Error, Peer: ev.From, Message: err.Error()})
			}
		}()
	case network.JobUpdate:
		d.onJobUpdate(ctx, ev.From, ev.Event)
	case network.StatusUpdate:
		d.notify(Notification{Kind: FrameUpdate, Peer: ev.From, Message: ev.Text})
	}
}

func (d *Dispatcher) onNodeDiscovered(ctx context.Context, ev network.NodeDiscovered) {
	spec := ev.Spec
	kind := NodeIdentity
	if d.peers.add(ev.Peer, spec) {
		kind = NodeDiscovered
		d.log.Infow("dispatcher", "event", "node discovered", "peer", ev.Peer, "host", spec.Host)
	}

	if err := d.stores.Workers.Add(ctx, model.Worker{ID: ev.Peer, Spec: spec}); err != nil {
		d.storeError("add worker", err)
	}

	d.notify(Notification{Kind: kind, Peer: ev.Peer, Spec: &spec})
}

func (d *Dispatcher) onNodeDisconnected(ctx context.Context, p peer.ID) {
	if !d.peers.remove(p) {
		return
	}

	d.log.Infow("dispatcher", "event", "node disconnected", "peer", p)
	if err := d.stores.Workers.Delete(ctx, p); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.storeError("delete worker", err)
	}
	d.notify(Notification{Kind: NodeDisconnected, Peer: p})

	a, held := d.outstanding[p]
	if !held {
		return
	}
	delete(d.outstanding, p)

	if js, active := d.jobs[a.task.JobID]; active {
		d.fail(ctx, js, fmt.Sprintf("worker %s disconnected holding %s", p, a.task.Range))
	}
}

func (d *Dispatcher) onJobUpdate(ctx context.Context, from peer.ID, ev model.JobEvent) {
	switch ev.Kind {
	case model.EventImageCompleted:
		d.onImageCompleted(ctx, from, ev)
	case model.EventError:
		d.onWorkerError(ctx, from, ev.Reason)
	case model.EventRequestJob:
		d.onRequestJob(ctx, from)
	default:
		d.log.Debugw("dispatcher", "event", "ignoring job event", "peer", from, "kind", ev.Kind)
	}
}

// release clears the frame from the peer's assignment and frees the peer once
// every frame of its task was reported.
func (d *Dispatcher) release(ctx context.Context, from peer.ID, ev model.JobEvent) {
	a, held := d.outstanding[from]
	if !held || a.task.JobID != ev.JobID {
		return
	}

	delete(a.remaining, ev.Frame)
	if len(a.remaining) > 0 {
		return
	}

	delete(d.outstanding, from)
	if err := d.stores.Tasks.Delete(ctx, a.task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.storeError("delete task", err)
	}
}

func (d *Dispatcher) onImageCompleted(ctx context.Context, from peer.ID, ev model.JobEvent) {
	d.release(ctx, from, ev)

	js, active := d.jobs[ev.JobID]
	if !active {
		d.log.Infow("dispatcher", "event", "discarding late image", "job", ev.JobID, "frame", ev.Frame, "peer", from)
		return
	}

	if js.failed != "" {
		d.finish(ctx, js)
		return
	}

	if !js.hasFrame(ev.Frame) {
		d.log.Warnw("dispatcher", "event", "image outside job range", "job", ev.JobID, "frame", ev.Frame, "peer", from)
		d.notify(Notification{Kind: Error, Peer: from, JobID: ev.JobID, Message: fmt.Sprintf("frame %d is not part of job", ev.Frame)})
		return
	}

	d.fetchImage(ctx, from, js, ev)
}

func (d *Dispatcher) onWorkerError(ctx context.Context, from peer.ID, reason string) {
	a, held := d.outstanding[from]
	if !held {
		d.log.Warnw("dispatcher", "event", "error from idle worker", "peer", from, "reason", reason)
		d.notify(Notification{Kind: Error, Peer: from, Message: reason})
		return
	}

	delete(d.outstanding, from)
	if err := d.stores.Tasks.Delete(ctx, a.task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.storeError("delete task", err)
	}

	if js, active := d.jobs[a.task.JobID]; active {
		d.fail(ctx, js, fmt.Sprintf("worker %s: %s", from, reason))
	}
}

// onRequestJob treats the sender as idle. A task it still held is abandoned,
// which fails its job unless every frame was already reported.
func (d *Dispatcher) onRequestJob(ctx context.Context, from peer.ID) {
	a, held := d.outstanding[from]
	if !held {
		return
	}
	delete(d.outstanding, from)

	js, active := d.jobs[a.task.JobID]
	if !active {
		return
	}

	if len(a.remaining) > 0 {
		d.fail(ctx, js, fmt.Sprintf("worker %s abandoned %s", from, a.task.Range))
		return
	}

	d.finish(ctx, js)
}
