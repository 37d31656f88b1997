package session

import (
	"reflect"
	"testing"

	"github.com/mossy-p/connect-now/internal/models"
)

func snapWith(ids map[string]string) models.RoomSnapshot {
	return models.RoomSnapshot{Participants: ids}
}

func TestPresenceReportsAddedAndRemoved(t *testing.T) {
	p := NewPresence("a1")

	added, removed := p.Update(snapWith(map[string]string{"a1": "alice", "c1": "carol", "b1": "bob"}))
	if want := []string{"b1", "c1"}; !reflect.DeepEqual(added, want) {
		t.Errorf("added = %v, want %v", added, want)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}

	added, removed = p.Update(snapWith(map[string]string{"a1": "alice", "b1": "bob", "d1": "dave"}))
	if want := []string{"d1"}; !reflect.DeepEqual(added, want) {
		t.Errorf("added = %v, want %v", added, want)
	}
	if want := []string{"c1"}; !reflect.DeepEqual(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}
}

func TestPresenceExcludesLocalParticipant(t *testing.T) {
	p := NewPresence("a1")
	added, _ := p.Update(snapWith(map[string]string{"a1": "alice"}))
	if len(added) != 0 {
		t.Errorf("local id reported as remote: %v", added)
	}
	if got := p.Remotes(); len(got) != 0 {
		t.Errorf("Remotes() = %v, want empty", got)
	}
}

func TestPresenceRedeliveryReportsNothing(t *testing.T) {
	p := NewPresence("a1")
	snap := snapWith(map[string]string{"a1": "alice", "b1": "bob"})
	p.Update(snap)

	added, removed := p.Update(snap)
	if len(added) != 0 || len(removed) != 0 {
		t.Errorf("redelivered snapshot changed presence: added=%v removed=%v", added, removed)
	}
}

func TestPresenceNameFallsBack(t *testing.T) {
	p := NewPresence("a1")
	p.Update(snapWith(map[string]string{"b1": "bob"}))

	if got := p.Name("b1"); got != "bob" {
		t.Errorf("Name(b1) = %q, want bob", got)
	}
	if got := p.Name("zz"); got != "Unknown" {
		t.Errorf("Name(zz) = %q, want Unknown", got)
	}
}
