// Package network is the overlay layer of the farm: peer discovery, topic
// broadcast, the provider directory and point to point file exchange, all
// behind a command queue and an event stream.
package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	p2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/pyropy/renderfarm/core/config"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/lib/cmap"
	"github.com/pyropy/renderfarm/lib/queue"
	"github.com/pyropy/renderfarm/rpc/protocol"
	"go.uber.org/zap"
)

// providersGrace bounds how long GetProviders waits past the request timeout
// for the lookup to hand back what it found.
const providersGrace = time.Second

var (
	ErrUnreachable     = errors.New("peer unreachable")
	ErrRejected        = errors.New("request rejected")
	ErrTimeout         = errors.New("request timed out")
	ErrFileNotProvided = errors.New("file not provided")
	ErrFileTooLarge    = errors.New("file exceeds size limit")
)

type Options struct {
	ListenAddrs  []string
	DiscoveryTag string
	MDNS         bool
	// Announce makes this peer share its spec on connect, on request and on
	// every IdentityInterval. Peers that don't announce request identities
	// instead.
	Announce          bool
	AnnounceDelay     time.Duration
	RequestTimeout    time.Duration
	IdentityInterval  time.Duration
	ReprovideInterval time.Duration
	MaxFileSize       int64
}

func OptionsFromConfig(cfg *config.Config, announce bool) Options {
	return Options{
		ListenAddrs:       cfg.Network.ListenAddrs,
		DiscoveryTag:      cfg.Network.DiscoveryTag,
		MDNS:              cfg.Network.MDNS,
		Announce:          announce,
		AnnounceDelay:     time.Second,
		RequestTimeout:    cfg.Network.RequestTimeout,
		IdentityInterval:  cfg.Network.IdentityInterval,
		ReprovideInterval: cfg.Network.ReprovideInterval,
		MaxFileSize:       cfg.Network.MaxFileSize,
	}
}

type Controller struct {
	opts Options
	spec model.ComputerSpec
	log  *zap.SugaredLogger

	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	mdns   mdns.Service

	topics    *cmap.Map[string, *pubsub.Topic]
	providing *cmap.Map[string, string]

	commands *queue.Unbounded[command]
	events   *queue.Unbounded[Event]
}

// New starts a libp2p host with gossipsub, a kademlia provider directory and
// the file exchange handler. ctx bounds the lifetime of the overlay services.
func New(ctx context.Context, opts Options, spec model.ComputerSpec, log *zap.SugaredLogger) (*Controller, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(opts.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeServer), dht.ProtocolPrefix(protocol.DHTPrefix))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("dht: %w", err)
	}

	c := &Controller{
		opts:      opts,
		spec:      spec,
		log:       log,
		host:      h,
		pubsub:    ps,
		dht:       kdht,
		topics:    cmap.NewMap[string, *pubsub.Topic](),
		providing: cmap.NewMap[string, string](),
		commands:  queue.NewUnbounded[command](),
		events:    queue.NewUnbounded[Event](),
	}

	for _, name := range []string{protocol.IdentityTopic, protocol.StatusTopic, protocol.JobsTopic} {
		if _, err := c.join(name); err != nil {
			c.Close()
			return nil, err
		}
	}

	h.SetStreamHandler(protocol.FileProtocol, c.handleFileStream)

	if opts.MDNS {
		c.mdns = mdns.NewMdnsService(h, opts.DiscoveryTag, &discoveryNotifee{ctx: ctx, c: c})
	}

	log.Infow("startup", "status", "overlay host started", "peer", h.ID(), "addrs", h.Addrs())
	return c, nil
}

func (c *Controller) ID() peer.ID {
	return c.host.ID()
}

func (c *Controller) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: c.host.ID(), Addrs: c.host.Addrs()}
}

// Connect dials a known peer directly, bypassing local discovery.
func (c *Controller) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return c.host.Connect(ctx, pi)
}

func (c *Controller) Connected(p peer.ID) bool {
	return c.host.Network().Connectedness(p) == p2pnet.Connected
}

// Events yields inbound events in the order they were observed.
func (c *Controller) Events() <-chan Event {
	return c.events.Out()
}

// Run subscribes to the farm topics and serves queued commands until ctx is
// done.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.watchConnections(ctx); err != nil {
		return err
	}

	if err := c.subscribe(ctx, protocol.IdentityTopic, c.onIdentity); err != nil {
		return err
	}
	if err := c.subscribe(ctx, protocol.StatusTopic, c.onStatus); err != nil {
		return err
	}
	if err := c.subscribe(ctx, protocol.JobsTopic, c.onJobMessage); err != nil {
		return err
	}

	if c.mdns != nil {
		if err := c.mdns.Start(); err != nil {
			return fmt.Errorf("mdns: %w", err)
		}
	}

	if err := c.dht.Bootstrap(ctx); err != nil {
		c.log.Warnw("startup", "status", "dht bootstrap failed", "error", err)
	}

	identity := newTicker(c.opts.IdentityInterval, c.opts.Announce)
	defer identity.Stop()
	reprovide := newTicker(c.opts.ReprovideInterval, true)
	defer reprovide.Stop()

	if c.opts.Announce {
		c.ShareIdentity()
	} else {
		c.RequestIdentities()
	}

	for {
		select {
		case cmd := <-c.commands.Out():
			c.handle(ctx, cmd)
		case <-identity.C():
			c.handle(ctx, shareIdentityCmd{})
		case <-reprovide.C():
			c.handle(ctx, reprovideCmd{})
		case <-ctx.Done():
			c.log.Infow("shutdown", "status", "overlay host stopping", "peer", c.host.ID())
			return c.Close()
		}
	}
}

func (c *Controller) Close() error {
	if c.mdns != nil {
		_ = c.mdns.Close()
	}

	_ = c.dht.Close()
	return c.host.Close()
}

// ShareIdentity broadcasts this peer's spec on the identity topic.
func (c *Controller) ShareIdentity() {
	c.commands.Push(shareIdentityCmd{})
}

// RequestIdentities asks every announcing peer to share its spec again.
func (c *Controller) RequestIdentities() {
	c.commands.Push(requestIdentityCmd{})
}

// StartProviding records path as the local copy of fileName and advertises
// this peer as its provider. Providing the same name again replaces the path.
func (c *Controller) StartProviding(fileName, path string) {
	c.providing.Set(fileName, path)
	c.commands.Push(provideCmd{fileName: fileName})
}

func (c *Controller) ProvidedPath(fileName string) (string, bool) {
	return c.providing.Get(fileName)
}

// Providing returns a snapshot of the provided files and their local paths.
func (c *Controller) Providing() map[string]string {
	files := make(map[string]string, c.providing.Len())
	c.providing.Range(func(name, path string) bool {
		files[name] = path
		return true
	})

	return files
}

// GetProviders returns the peers known to provide fileName. No known provider
// is an empty result, not an error.
func (c *Controller) GetProviders(ctx context.Context, fileName string) ([]peer.ID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	reply := make(chan providersResult, 1)
	c.commands.Push(getProvidersCmd{ctx: ctx, fileName: fileName, reply: reply})

	// the lookup ends with its partial result when ctx expires; the guard
	// only covers a controller loop that no longer runs
	guard := time.NewTimer(c.opts.RequestTimeout + providersGrace)
	defer guard.Stop()

	select {
	case r := <-reply:
		return r.peers, r.err
	case <-guard.C:
		return []peer.ID{}, nil
	}
}

// Flush returns once every command queued before it has been handled by the
// controller loop, so messages sent earlier have been handed to gossipsub.
func (c *Controller) Flush(ctx context.Context) error {
	done := make(chan struct{})
	c.commands.Push(flushCmd{done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestFile fetches fileName from p. It fails fast with ErrUnreachable when
// p is not connected and with ErrTimeout once the request timeout elapses.
func (c *Controller) RequestFile(ctx context.Context, p peer.ID, fileName string) ([]byte, error) {
	if p == c.host.ID() {
		path, ok := c.ProvidedPath(fileName)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotProvided, fileName)
		}

		return os.ReadFile(path)
	}

	if !c.Connected(p) {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, p)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	reply := make(chan fileResult, 1)
	c.commands.Push(requestFileCmd{ctx: ctx, peer: p, fileName: fileName, reply: reply})

	select {
	case r := <-reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s from %s", ErrTimeout, fileName, p)
	}
}

// RespondFile completes an inbound request with data.
func (c *Controller) RespondFile(h *ResponseHandle, data []byte) {
	if !h.respond(fileReply{data: data}) {
		c.log.Warnw("exchange", "status", "duplicate response dropped")
	}
}

// RespondError completes an inbound request with an explicit failure.
func (c *Controller) RespondError(h *ResponseHandle, reason string) {
	if reason == "" {
		reason = "request failed"
	}

	if !h.respond(fileReply{err: reason}) {
		c.log.Warnw("exchange", "status", "duplicate response dropped")
	}
}

// SendJobMessage publishes ev for p alone. Delivery is at most once.
func (c *Controller) SendJobMessage(p peer.ID, ev model.JobEvent) {
	c.publishJSON(protocol.JobsTopic, protocol.JobMessage{Target: p.String(), Event: ev})
}

// BroadcastJobMessage publishes ev for every peer.
func (c *Controller) BroadcastJobMessage(ev model.JobEvent) {
	c.publishJSON(protocol.JobsTopic, protocol.JobMessage{Event: ev})
}

func (c *Controller) PublishStatus(text string) {
	c.publishJSON(protocol.StatusTopic, protocol.StatusMessage{Text: text})
}

// SubscribeTopic joins an additional topic. Its messages are reported as
// TopicMessage events.
func (c *Controller) SubscribeTopic(ctx context.Context, name string) error {
	return c.subscribe(ctx, name, func(from peer.ID, data []byte) {
		c.events.Push(TopicMessage{Topic: name, From: from, Data: data})
	})
}

// Publish sends raw data on a topic joined with SubscribeTopic.
func (c *Controller) Publish(name string, data []byte) {
	c.commands.Push(publishCmd{topic: name, data: data})
}
