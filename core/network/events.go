package network

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

// Event is anything the controller reports on its event stream.
type Event interface{ isEvent() }

type (
	// NodeDiscovered is reported when a connected peer announces its spec. A
	// peer may be discovered again when it re-announces.
	NodeDiscovered struct {
		Peer peer.ID
		Spec model.ComputerSpec
	}
	NodeDisconnected struct {
		Peer peer.ID
	}
	// InboundRequest asks this peer for a file it provides. It must be
	// answered with RespondFile or RespondError.
	InboundRequest struct {
		From     peer.ID
		FileName string
		Handle   *ResponseHandle
	}
	JobUpdate struct {
		From  peer.ID
		Event model.JobEvent
	}
	StatusUpdate struct {
		From peer.ID
		Text string
	}
	// TopicMessage is a raw message on a topic joined with SubscribeTopic.
	TopicMessage struct {
		Topic string
		From  peer.ID
		Data  []byte
	}
)

func (NodeDiscovered) isEvent()   {}
func (NodeDisconnected) isEvent() {}
func (InboundRequest) isEvent()   {}
func (JobUpdate) isEvent()        {}
func (StatusUpdate) isEvent()     {}
func (TopicMessage) isEvent()     {}

type fileReply struct {
	data []byte
	err  string
}

// ResponseHandle completes one inbound file request. Only the first response
// is delivered.
type ResponseHandle struct {
	once  sync.Once
	reply chan fileReply
}

func NewResponseHandle() *ResponseHandle {
	return &ResponseHandle{
		reply: make(chan fileReply, 1),
	}
}

func (h *ResponseHandle) respond(r fileReply) bool {
	sent := false
	h.once.Do(func() {
		h.reply <- r
		sent = true
	})

	return sent
}

func (h *ResponseHandle) wait(ctx context.Context) (fileReply, bool) {
	select {
	case r := <-h.reply:
		return r, true
	case <-ctx.Done():
		return fileReply{}, false
	}
}
