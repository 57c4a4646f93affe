package store

import (
	"context"
	"sync"

	"contest-rpc/model"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]UserRecord
	races        map[int32]model.Race
	participants []model.Participant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]UserRecord),
		races: make(map[int32]model.Race),
	}
}

func (s *MemoryStore) FindUser(ctx context.Context, username string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) SaveUser(ctx context.Context, u UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
	return nil
}

func (s *MemoryStore) FindAllRaces(ctx context.Context) ([]model.Race, error) {
	s.mu.RLock()
	races := make([]model.Race, 0, len(s.races))
	for _, r := range s.races {
		races = append(races, r)
	}
	s.mu.RUnlock()
	sortRaces(races)
	return races, nil
}

func (s *MemoryStore) FindRaceByCapacity(ctx context.Context, engineCapacity int32) (*model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[engineCapacity]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) SaveRace(ctx context.Context, r model.Race) error {
	r.NoParticipants = 0
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races[r.EngineCapacity] = r
	return nil
}

func (s *MemoryStore) SaveParticipant(ctx context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants {
		if existing.SameFields(p) {
			return ErrDuplicate
		}
	}
	s.participants = append(s.participants, p)
	return nil
}

func (s *MemoryStore) FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error) {
	s.mu.RLock()
	var out []model.Participant
	for _, p := range s.participants {
		if p.Team == team {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortParticipants(out)
	return out, nil
}

func (s *MemoryStore) CountByEngineCapacity(ctx context.Context, engineCapacity int32) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int32
	for _, p := range s.participants {
		if p.EngineCapacity == engineCapacity {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
