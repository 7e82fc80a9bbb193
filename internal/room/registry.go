package room

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry owns every room of the process. Rooms are created on first join and removed
// explicitly or by Sweep once they are idle.
//
// Lock order is registry then room; code holding a room lock never calls into the registry.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	now   func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms: make(map[string]*Room),
		now:   now,
	}
}

// GetOrCreate returns the room with the given id, creating it in the lobby phase if absent.
func (r *Registry) GetOrCreate(id string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[id]; ok {
		return rm, false
	}

	rm := newRoom(id, r.now())
	r.rooms[id] = rm
	return rm, true
}

func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[id]
	return rm, ok
}

// Remove evicts a room and cancels its pending timer.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[id]
	if !ok {
		return false
	}

	rm.mu.Lock()
	rm.evict()
	rm.mu.Unlock()

	delete(r.rooms, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// Sweep evicts rooms that sit in the lobby or have ended and saw no activity for ttl.
// Rooms with a game in progress are never swept, their timer keeps them moving.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rm := range r.rooms {
		rm.mu.Lock()
		idle := (rm.phase == PhaseLobby || rm.phase == PhaseEnded) && now.Sub(rm.lastActivity) >= ttl
		if idle {
			rm.evict()
		}
		rm.mu.Unlock()

		if idle {
			delete(r.rooms, id)
			evicted = append(evicted, id)
		}
	}

	return evicted
}

// Run sweeps idle rooms every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, ttl time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if ids := r.Sweep(r.now(), ttl); len(ids) > 0 {
				slog.InfoContext(ctx, "room: swept idle rooms", "count", len(ids), "rooms", ids)
			}
		}
	}
}

// evict must be called with rm.mu held.
func (rm *Room) evict() {
	rm.timer.stop()
	rm.evicted = true
	rm.active = false
}
