package network

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/rpc/protocol"
)

type command interface{ isCommand() }

type (
	shareIdentityCmd   struct{}
	requestIdentityCmd struct{}
	reprovideCmd       struct{}
	provideCmd         struct {
		fileName string
	}
	publishCmd struct {
		topic string
		data  []byte
	}
	getProvidersCmd struct {
		ctx      context.Context
		fileName string
		reply    chan providersResult
	}
	requestFileCmd struct {
		ctx      context.Context
		peer     peer.ID
		fileName string
		reply    chan fileResult
	}
	flushCmd struct {
		done chan struct{}
	}
)

func (shareIdentityCmd) isCommand()   {}
func (requestIdentityCmd) isCommand() {}
func (reprovideCmd) isCommand()       {}
func (provideCmd) isCommand()         {}
func (publishCmd) isCommand()         {}
func (getProvidersCmd) isCommand()    {}
func (requestFileCmd) isCommand()     {}
func (flushCmd) isCommand()           {}

type providersResult struct {
	peers []peer.ID
	err   error
}

type fileResult struct {
	data []byte
	err  error
}

// handle runs on the controller loop. Anything that waits on another peer is
// moved to its own goroutine so the loop keeps draining commands.
func (c *Controller) handle(ctx context.Context, cmd command) {
	switch cmd := cmd.(type) {
	case shareIdentityCmd:
		spec := c.spec
		c.publish(ctx, protocol.IdentityTopic, protocol.IdentityMessage{Spec: &spec})
	case requestIdentityCmd:
		c.publish(ctx, protocol.IdentityTopic, protocol.IdentityMessage{Request: true})
	case provideCmd:
		go c.provide(ctx, cmd.fileName)
	case reprovideCmd:
		c.providing.Range(func(name, _ string) bool {
			go c.provide(ctx, name)
			return true
		})
	case publishCmd:
		c.publishRaw(ctx, cmd.topic, cmd.data)
	case getProvidersCmd:
		go func() {
			peers, err := c.findProviders(cmd.ctx, cmd.fileName)
			cmd.reply <- providersResult{peers: peers, err: err}
		}()
	case requestFileCmd:
		go func() {
			data, err := c.fetch(cmd.ctx, cmd.peer, cmd.fileName)
			cmd.reply <- fileResult{data: data, err: err}
		}()
	case flushCmd:
		close(cmd.done)
	default:
		c.log.Errorw("controller", "status", "unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

func (c *Controller) publishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Errorw("broadcast", "status", "encode failed", "topic", topic, "error", err)
		return
	}

	c.commands.Push(publishCmd{topic: topic, data: data})
}

func (c *Controller) publish(ctx context.Context, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Errorw("broadcast", "status", "encode failed", "topic", topic, "error", err)
		return
	}

	c.publishRaw(ctx, topic, data)
}

func (c *Controller) publishRaw(ctx context.Context, name string, data []byte) {
	topic, ok := c.topics.Get(name)
	if !ok {
		c.log.Warnw("broadcast", "status", "publish to unknown topic", "topic", name)
		return
	}

	if err := topic.Publish(ctx, data); err != nil {
		c.log.Warnw("broadcast", "status", "publish failed", "topic", name, "error", err)
	}
}

func (c *Controller) join(name string) (*pubsub.Topic, error) {
	if topic, ok := c.topics.Get(name); ok {
		return topic, nil
	}

	topic, err := c.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", name, err)
	}

	c.topics.Set(name, topic)
	return topic, nil
}

func (c *Controller) subscribe(ctx context.Context, name string, handle func(from peer.ID, data []byte)) error {
	topic, err := c.join(name)
	if err != nil {
		return err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	go func() {
		defer sub.Cancel()

		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warnw("broadcast", "status", "subscription closed", "topic", name, "error", err)
				}
				return
			}

			if msg.ReceivedFrom == c.host.ID() {
				continue
			}

			handle(msg.GetFrom(), msg.Data)
		}
	}()

	return nil
}

// ticker is a time.Ticker that can be disabled, in which case it never fires.
type ticker struct {
	t *time.Ticker
}

func newTicker(interval time.Duration, enabled bool) ticker {
	if !enabled || interval <= 0 {
		return ticker{}
	}

	return ticker{t: time.NewTicker(interval)}
}

func (t ticker) C() <-chan time.Time {
	if t.t == nil {
		return nil
	}

	return t.t.C
}

func (t ticker) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
}
