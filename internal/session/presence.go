package session

import (
	"sort"
	"sync"

	"github.com/mossy-p/connect-now/internal/models"
)

// Presence maintains the deduplicated set of remote participants from room
// snapshots. Downstream consumers reconcile against the full set on every
// change instead of trusting delta framing, so Update reports both the
// additions and the removals relative to the last observed set.
type Presence struct {
	localID string

	mu    sync.Mutex
	known map[string]string // remote id -> display name
}

// NewPresence tracks everyone but localID.
func NewPresence(localID string) *Presence {
	return &Presence{localID: localID, known: make(map[string]string)}
}

// Update reconciles against a snapshot's participant map and returns the ids
// that appeared and disappeared, sorted for determinism.
func (p *Presence) Update(snap models.RoomSnapshot) (added, removed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, name := range snap.Participants {
		if id == p.localID {
			continue
		}
		if _, ok := p.known[id]; !ok {
			added = append(added, id)
		}
		p.known[id] = name
	}
	for id := range p.known {
		if _, ok := snap.Participants[id]; !ok {
			removed = append(removed, id)
			delete(p.known, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Remotes returns a copy of the current remote set.
func (p *Presence) Remotes() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.known))
	for id, name := range p.known {
		out[id] = name
	}
	return out
}

// Name resolves a display name from presence; the transport itself never
// carries one.
func (p *Presence) Name(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.known[id]; ok {
		return name
	}
	return "Unknown"
}
