package dispatcher

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/pyropy/renderfarm/core/model"
)

func TestPeerSetSelectionOrder(t *testing.T) {
	s := newPeerSet()
	a, b, c := test.RandPeerIDFatal(t), test.RandPeerIDFatal(t), test.RandPeerIDFatal(t)

	for _, p := range []peer.ID{a, b, c} {
		if !s.add(p, model.ComputerSpec{}) {
			t.Fatalf("expected %s to be new", p)
		}
	}
	if s.add(b, model.ComputerSpec{Cores: 8}) {
		t.Fatalf("expected re-announcement to keep existing entry")
	}

	none := func(peer.ID) bool { return false }

	got, _ := s.selectIdle(none)
	if got != a {
		t.Fatalf("expected first discovered peer, got %s", got)
	}

	s.markAssigned(a)
	s.markAssigned(b)

	got, _ = s.selectIdle(none)
	if got != c {
		t.Fatalf("expected never assigned peer, got %s", got)
	}

	s.markAssigned(c)
	got, _ = s.selectIdle(func(p peer.ID) bool { return p == a })
	if got != b {
		t.Fatalf("expected least recently assigned idle peer, got %s", got)
	}

	if _, ok := s.selectIdle(func(peer.ID) bool { return true }); ok {
		t.Fatalf("expected no idle peer")
	}
}

func TestPeerSetRejoinResetsOrder(t *testing.T) {
	s := newPeerSet()
	a, b := test.RandPeerIDFatal(t), test.RandPeerIDFatal(t)
	s.add(a, model.ComputerSpec{})
	s.add(b, model.ComputerSpec{})

	if !s.remove(a) || s.remove(a) {
		t.Fatalf("expected remove to report membership once")
	}
	s.add(a, model.ComputerSpec{})

	ids := s.ids()
	if len(ids) != 2 || ids[0] != b || ids[1] != a {
		t.Fatalf("expected [%s %s], got %v", b, a, ids)
	}
	if s.len() != 2 || !s.has(a) {
		t.Fatalf("expected both peers live")
	}
}
