package dispatcher

import (
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pyropy/renderfarm/core/model"
)

type peerEntry struct {
	ID   peer.ID
	Spec model.ComputerSpec

	// joined and assigned are ticks of the peer set clock. assigned is zero
	// for peers that never received a task.
	joined   uint64
	assigned uint64
}

// peerSet is the live peer map. It is owned by the dispatch loop and is not
// safe for concurrent use.
type peerSet struct {
	entries map[peer.ID]*peerEntry
	clock   uint64
}

func newPeerSet() *peerSet {
	return &peerSet{
		entries: make(map[peer.ID]*peerEntry),
	}
}

func (s *peerSet) tick() uint64 {
	s.clock++
	return s.clock
}

// add registers p or replaces its spec. It reports whether p was not live
// before.
func (s *peerSet) add(p peer.ID, spec model.ComputerSpec) bool {
	if e, exists := s.entries[p]; exists {
		e.Spec = spec
		return false
	}

	s.entries[p] = &peerEntry{ID: p, Spec: spec, joined: s.tick()}
	return true
}

func (s *peerSet) remove(p peer.ID) bool {
	if _, exists := s.entries[p]; !exists {
		return false
	}

	delete(s.entries, p)
	return true
}

func (s *peerSet) has(p peer.ID) bool {
	_, exists := s.entries[p]
	return exists
}

func (s *peerSet) len() int {
	return len(s.entries)
}

func (s *peerSet) markAssigned(p peer.ID) {
	if e, exists := s.entries[p]; exists {
		e.assigned = s.tick()
	}
}

// ordered returns live peers in selection order: least recently assigned
// first, peers that were never assigned before any other, ties broken by
// discovery order.
func (s *peerSet) ordered() []peerEntry {
	result := make([]peerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, *e)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].assigned != result[j].assigned {
			return result[i].assigned < result[j].assigned
		}
		return result[i].joined < result[j].joined
	})

	return result
}

// selectIdle returns the first peer in selection order that busy does not
// report as holding a task.
func (s *peerSet) selectIdle(busy func(peer.ID) bool) (peer.ID, bool) {
	for _, e := range s.ordered() {
		if !busy(e.ID) {
			return e.ID, true
		}
	}

	return "", false
}

// ids returns live peers in discovery order.
func (s *peerSet) ids() []peer.ID {
	entries := make([]*peerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].joined < entries[j].joined })

	result := make([]peer.ID, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.ID)
	}

	return result
}
