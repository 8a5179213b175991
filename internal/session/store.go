package session

import (
	"sort"
	"sync"
)

// Set is a concurrency-safe collection of clients keyed by ID. Readers only
// ever receive snapshots.
type Set struct {
	mu      sync.RWMutex
	clients map[string]*Client
	order   map[string]uint64
	next    uint64
}

func NewSet() *Set {
	return &Set{
		clients: make(map[string]*Client),
		order:   make(map[string]uint64),
	}
}

// Add inserts c. It reports false, leaving the set untouched, when a client
// with the same ID is already present.
func (s *Set) Add(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID()]; ok {
		return false
	}
	s.clients[c.ID()] = c
	s.order[c.ID()] = s.next
	s.next++
	return true
}

// Remove deletes c if it is the member stored under its ID.
func (s *Set) Remove(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[c.ID()]; !ok || existing != c {
		return false
	}
	delete(s.clients, c.ID())
	delete(s.order, c.ID())
	return true
}

func (s *Set) Get(id string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// All returns the members in admission order.
func (s *Set) All() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Clear empties the set and returns what it held.
func (s *Set) Clear() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.snapshotLocked()
	s.clients = make(map[string]*Client)
	s.order = make(map[string]uint64)
	return result
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Set) snapshotLocked() []*Client {
	result := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return s.order[result[i].ID()] < s.order[result[j].ID()]
	})
	return result
}
