package conversation

import "sync"

// Tracker keeps the set of contacts currently online, fed by the
// presence events of the clique channel.
type Tracker struct {
	mu     sync.RWMutex
	online map[int64]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[int64]struct{})}
}

// SetAll replaces the whole set, used for the snapshot sent on connect.
func (t *Tracker) SetAll(userIDs []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		t.online[id] = struct{}{}
	}
}

// Online marks a contact online.
func (t *Tracker) Online(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = struct{}{}
}

// Offline marks a contact offline.
func (t *Tracker) Offline(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
}

// IsOnline reports whether the contact is currently online.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Snapshot returns the online user ids in unspecified order.
func (t *Tracker) Snapshot() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int64, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}
