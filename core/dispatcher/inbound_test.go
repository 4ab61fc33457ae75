//go:build linux || darwin

package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/test"
	"github.com/pyropy/renderfarm/core/network"
)

func TestInboundRequestDoesNotBlockLoop(t *testing.T) {
	d, f := startDispatcher(t, 3, nil)

	// a fifo without a writer blocks the reader until the test writes to it
	path := filepath.Join(t.TempDir(), "scene.blend")
	if err := syscall.Mkfifo(path, 0600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	f.StartProviding("scene.blend", path)

	f.events <- network.InboundRequest{From: test.RandPeerIDFatal(t), FileName: "scene.blend", Handle: network.NewResponseHandle()}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.LivePeers(ctx); err != nil {
		t.Fatalf("dispatcher stalled while serving a file: %v", err)
	}

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open fifo: %v", err)
	}
	if _, err := w.Write([]byte("scene")); err != nil {
		t.Fatalf("write fifo: %v", err)
	}
	w.Close()

	select {
	case r := <-f.responses:
		if r.err != "" || string(r.data) != "scene" {
			t.Fatalf("expected scene bytes, got %+v", r)
		}
	case <-time.After(waitFor):
		t.Fatalf("no response to inbound request")
	}
}
