package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/libp2p/go-libp2p/core/event"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/rpc/protocol"
)

// discoveryNotifee connects to every peer found by mDNS.
type discoveryNotifee struct {
	ctx context.Context
	c   *Controller
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.c.host.ID() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.c.opts.RequestTimeout)
		defer cancel()

		if err := n.c.host.Connect(ctx, pi); err != nil {
			n.c.log.Debugw("discovery", "status", "connect failed", "peer", pi.ID, "error", err)
			return
		}

		n.c.log.Infow("discovery", "status", "peer found", "peer", pi.ID)
	}()
}

// watchConnections turns connectedness changes into disconnect events and
// identity exchanges.
func (c *Controller) watchConnections(ctx context.Context) error {
	sub, err := c.host.EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}

	go func() {
		defer sub.Close()

		for {
			select {
			case e, ok := <-sub.Out():
				if !ok {
					return
				}

				evt := e.(event.EvtPeerConnectednessChanged)
				switch evt.Connectedness {
				case p2pnet.Connected:
					c.log.Infow("discovery", "status", "peer connected", "peer", evt.Peer)
					c.onConnected()
				case p2pnet.NotConnected:
					c.log.Infow("discovery", "status", "peer disconnected", "peer", evt.Peer)
					c.events.Push(NodeDisconnected{Peer: evt.Peer})
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// onConnected exchanges identities and re-provides files once gossipsub had a
// moment to learn the new peer's subscriptions.
func (c *Controller) onConnected() {
	time.AfterFunc(c.opts.AnnounceDelay, func() {
		if c.opts.Announce {
			c.commands.Push(shareIdentityCmd{})
		} else {
			c.commands.Push(requestIdentityCmd{})
		}

		c.commands.Push(reprovideCmd{})
	})
}

func (c *Controller) onIdentity(from peer.ID, data []byte) {
	var msg protocol.IdentityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warnw("broadcast", "status", "malformed identity dropped", "peer", from, "error", err)
		return
	}

	if msg.Request && c.opts.Announce {
		c.commands.Push(shareIdentityCmd{})
	}

	if msg.Spec == nil {
		return
	}

	// only direct peers are tracked, so a later disconnect is always observed
	if !c.Connected(from) {
		c.log.Debugw("broadcast", "status", "identity from indirect peer dropped", "peer", from)
		return
	}

	c.events.Push(NodeDiscovered{Peer: from, Spec: *msg.Spec})
}

func (c *Controller) onStatus(from peer.ID, data []byte) {
	var msg protocol.StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warnw("broadcast", "status", "malformed status dropped", "peer", from, "error", err)
		return
	}

	c.events.Push(StatusUpdate{From: from, Text: msg.Text})
}

func (c *Controller) onJobMessage(from peer.ID, data []byte) {
	var msg protocol.JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warnw("broadcast", "status", "malformed job message dropped", "peer", from, "error", err)
		return
	}

	if msg.Target != "" && msg.Target != c.host.ID().String() {
		return
	}

	if err := msg.Event.Validate(); err != nil {
		c.log.Warnw("broadcast", "status", "invalid job event dropped", "peer", from, "error", err)
		return
	}

	c.events.Push(JobUpdate{From: from, Event: msg.Event})
}
