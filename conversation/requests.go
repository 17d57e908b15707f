package conversation

import (
	"sync"

	"klique/models"
)

// RequestList is the social feed of pending clique (friend) requests.
// Same lifecycle as a Store but items are keyed by user id and have no
// delivery status.
type RequestList struct {
	mu       sync.RWMutex
	requests []models.CliqueRequest
}

func NewRequestList() *RequestList {
	return &RequestList{}
}

// Add appends requests in arrival order, skipping user ids already
// present.
func (r *RequestList) Add(reqs ...models.CliqueRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range reqs {
		if r.indexOfLocked(req.UserID) < 0 {
			r.requests = append(r.requests, req)
		}
	}
}

// Remove deletes the request from userID, e.g. after a decline.
func (r *RequestList) Remove(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOfLocked(userID)
	if i < 0 {
		return false
	}
	r.requests = append(r.requests[:i:i], r.requests[i+1:]...)
	return true
}

// Snapshot returns a copy of the pending requests in arrival order.
func (r *RequestList) Snapshot() []models.CliqueRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CliqueRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

func (r *RequestList) indexOfLocked(userID int64) int {
	for i := range r.requests {
		if r.requests[i].UserID == userID {
			return i
		}
	}
	return -1
}
