// Package conversation holds the in-memory per-channel message state:
// ordered lists with optimistic local inserts and acknowledgement-driven
// status transitions.
package conversation

import (
	"sync"
	"time"

	"klique/models"
)

// Store keeps the ordered message sequence for each channel of one
// feature area (group chat, direct messages or chat rooms all get their
// own instance). Mutation happens on the transport's dispatch goroutine
// and on user-action goroutines; readers get copy-on-write snapshots.
type Store struct {
	nextID func() string

	mu        sync.RWMutex
	byChannel map[string][]models.Message
}

// NewStore builds a store. nextID generates the client-side ids used to
// correlate acknowledgements; it must never repeat within a session.
func NewStore(nextID func() string) *Store {
	return &Store{
		nextID:    nextID,
		byChannel: make(map[string][]models.Message),
	}
}

// CreateLocal is the optimistic-write path: it constructs a message in
// the Sending state, appends it and returns it so the caller can put it
// on the wire immediately.
func (s *Store) CreateLocal(channelID, content string, itemType models.ItemType, sender models.Identity) models.Message {
	msg := models.Message{
		ID:         s.nextID(),
		ChannelID:  channelID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Content:    content,
		Type:       itemType,
		Timestamp:  time.Now().UnixMilli(),
		Status:     models.StatusSending,
	}
	s.mu.Lock()
	s.byChannel[channelID] = append(s.byChannel[channelID], msg)
	s.mu.Unlock()
	return msg
}

// AppendReceived adds a server-originated message in arrival order.
// Duplicate ids within a channel are ignored so a replayed item never
// shows up twice.
func (s *Store) AppendReceived(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.byChannel[msg.ChannelID]
	for i := range seq {
		if seq[i].ID == msg.ID {
			return false
		}
	}
	s.byChannel[msg.ChannelID] = append(seq, msg)
	return true
}

// Acknowledge updates the status of the message matching (channelID,
// itemID). A missing item is a no-op: it may already have been replaced
// by a history replay.
func (s *Store) Acknowledge(channelID, itemID string, status models.DeliveryStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.byChannel[channelID]
	for i := range seq {
		if seq[i].ID != itemID {
			continue
		}
		updated := make([]models.Message, len(seq))
		copy(updated, seq)
		updated[i].Status = status
		s.byChannel[channelID] = updated
		return true
	}
	return false
}

// ReplaceAll installs a server-provided history for the channel. Local
// items still waiting for their acknowledgement are re-appended after the
// replacement unless the replay already contains them, so a replay racing
// a pending send never loses the optimistic entry.
func (s *Store) ReplaceAll(channelID string, items []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.Message
	for _, m := range s.byChannel[channelID] {
		if m.Status == models.StatusSending {
			pending = append(pending, m)
		}
	}

	installed := make([]models.Message, len(items))
	copy(installed, items)
	known := make(map[string]struct{}, len(installed))
	for _, m := range installed {
		known[m.ID] = struct{}{}
	}
	for _, m := range pending {
		if _, ok := known[m.ID]; !ok {
			installed = append(installed, m)
		}
	}
	s.byChannel[channelID] = installed
}

// Messages returns a snapshot of the channel's sequence.
func (s *Store) Messages(channelID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.byChannel[channelID]
	out := make([]models.Message, len(seq))
	copy(out, seq)
	return out
}

// Pending returns the channel's messages still in the Sending state, in
// creation order. Used to retry unacknowledged sends after a reconnect.
func (s *Store) Pending(channelID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.byChannel[channelID] {
		if m.Status == models.StatusSending {
			out = append(out, m)
		}
	}
	return out
}

// Clear drops the channel's sequence, e.g. after leaving a gist.
func (s *Store) Clear(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChannel, channelID)
}

// Channels lists the channel ids currently held.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byChannel))
	for id := range s.byChannel {
		out = append(out, id)
	}
	return out
}
