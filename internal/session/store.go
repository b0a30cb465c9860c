// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded registry of live sessions. Mutations happen on the event loop;
// the locks let other goroutines (metrics scrapes, Stop) read safely.

package session

import (
	"hash/fnv"
	"sort"
	"sync"
)

// Registry maps session ids to sessions. It never exposes its internal maps:
// Snapshot and Select return copies.
type Registry struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs a registry with shardCount shards, rounded up to a
// power of two.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return &Registry{shards: shards, mask: m - 1}
}

func (r *Registry) shard(id string) *shard {
	return r.shards[fnv32(id)&r.mask]
}

// Put inserts or replaces the session stored under id.
func (r *Registry) Put(id string, s *Session) {
	sh := r.shard(id)
	sh.mu.Lock()
	sh.sessions[id] = s
	sh.mu.Unlock()
}

// Get fetches a session if present.
func (r *Registry) Get(id string) (*Session, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; !ok {
		return false
	}
	delete(sh.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns every session ordered by creation time, then id. The
// returned slice is owned by the caller.
func (r *Registry) Snapshot() []*Session {
	return r.Select(nil)
}

// Select returns a snapshot of the sessions matching pred (all when pred is
// nil), in Snapshot order.
func (r *Registry) Select(pred func(*Session) bool) []*Session {
	out := make([]*Session, 0, r.Len())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			if pred == nil || pred(s) {
				out = append(out, s)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear removes every session and returns what was removed.
func (r *Registry) Clear() []*Session {
	removed := r.Snapshot()
	for _, sh := range r.shards {
		sh.mu.Lock()
		sh.sessions = make(map[string]*Session)
		sh.mu.Unlock()
	}
	return removed
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
