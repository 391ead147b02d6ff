package pool

import (
	"sync"
)

// Registry maps users to their live connection handles. Presence is
// edge-triggered: Join reports the 0→1 transition, Leave the 1→0 one, so a
// second device never re-announces an already-online user.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int]map[string]*Client)}
}

// Join registers the handle and reports whether the user just came online.
func (r *Registry) Join(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles, ok := r.byUser[c.UserID]
	if !ok {
		handles = make(map[string]*Client)
		r.byUser[c.UserID] = handles
	}
	handles[c.ID] = c
	return len(handles) == 1
}

// Leave unregisters the handle and reports whether the user just went
// offline. Unknown handles report false.
func (r *Registry) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles, ok := r.byUser[c.UserID]
	if !ok {
		return false
	}
	if _, ok := handles[c.ID]; !ok {
		return false
	}
	delete(handles, c.ID)
	if len(handles) == 0 {
		delete(r.byUser, c.UserID)
		return true
	}
	return false
}

// HandlesFor snapshots the user's current connections.
func (r *Registry) HandlesFor(userID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]*Client, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		handles = append(handles, c)
	}
	return handles
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers snapshots the ids of every connected user.
func (r *Registry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	return ids
}
