package network

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
)

func TestCollectProvidersKeepsPartialResult(t *testing.T) {
	a, b := test.RandPeerIDFatal(t), test.RandPeerIDFatal(t)

	// a lookup cut short by its deadline closes the channel after what it
	// found so far
	found := make(chan peer.AddrInfo, 3)
	found <- peer.AddrInfo{ID: a}
	found <- peer.AddrInfo{ID: b}
	found <- peer.AddrInfo{ID: a}
	close(found)

	got := collectProviders(found)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("expected [%s %s], got %v", a, b, got)
	}
}

func TestFileKeyStable(t *testing.T) {
	k1, err := fileKey("scene.blend")
	if err != nil {
		t.Fatalf("file key: %v", err)
	}
	k2, _ := fileKey("scene.blend")
	other, _ := fileKey("other.blend")

	if !k1.Equals(k2) || k1.Equals(other) {
		t.Fatalf("expected stable distinct keys, got %s %s %s", k1, k2, other)
	}
}
