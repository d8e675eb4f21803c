package store

import (
	"context"
	"slices"
	"sync"

	"github.com/mossy-p/webrtc-roulette/internal/models"
)

// MemoryStore is a Store for a single server process.
type MemoryStore struct {
	mu      sync.Mutex
	queue   []string
	rooms   map[string]models.RoomMetadata
	members map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:   make(map[string]models.RoomMetadata),
		members: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.queue, name) {
		s.queue = append(s.queue, name)
	}
	return nil
}

func (s *MemoryStore) Waiting(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue), nil
}

func (s *MemoryStore) Dequeue(_ context.Context, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = slices.DeleteFunc(s.queue, func(n string) bool {
		return slices.Contains(names, n)
	})
	return nil
}

func (s *MemoryStore) SaveRoom(_ context.Context, room models.RoomMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Code] = room
	return nil
}

func (s *MemoryStore) Room(_ context.Context, code string) (models.RoomMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return models.RoomMetadata{}, ErrRoomNotFound
	}
	room.Members = len(s.members[code])
	return room, nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, code)
	delete(s.members, code)
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, code, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[code]
	if !ok {
		set = make(map[string]struct{})
		s.members[code] = set
	}
	set[name] = struct{}{}
	return len(set), nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, code, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[code]
	delete(set, name)
	if len(set) == 0 {
		delete(s.members, code)
	}
	return len(set), nil
}

func (s *MemoryStore) Members(_ context.Context, code string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members[code]))
	for name := range s.members[code] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
