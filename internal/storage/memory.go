package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// state is the in-memory image shared by the memory and file drivers.
type state struct {
	Prefs      map[string]string              `json:"prefs"`
	Sets       map[string]map[string]struct{} `json:"-"`
	SetLists   map[string][]string            `json:"sets"`
	Watchlists map[string]Watchlist           `json:"watchlists"`
}

func newState() *state {
	return &state{
		Prefs:      map[string]string{},
		Sets:       map[string]map[string]struct{}{},
		Watchlists: map[string]Watchlist{},
	}
}

func (s *state) add(set, id string) {
	m := s.Sets[set]
	if m == nil {
		m = map[string]struct{}{}
		s.Sets[set] = m
	}
	m[id] = struct{}{}
}

func (s *state) remove(set, id string) {
	if m := s.Sets[set]; m != nil {
		delete(m, id)
	}
}

func (s *state) members(set string) []string {
	m := s.Sets[set]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *state) watchlists() []Watchlist {
	out := make([]Watchlist, 0, len(s.Watchlists))
	for _, w := range s.Watchlists {
		out = append(out, w.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// memoryStore keeps everything in process memory.
type memoryStore struct {
	mu sync.Mutex
	st *state
}

func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (m *memoryStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.st.Prefs[key]
	return v, ok, nil
}

func (m *memoryStore) SetPref(ctx context.Context, key, value string) error {
	m.mu.Lock()
	m.st.Prefs[key] = value
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) AddMember(ctx context.Context, set, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	m.mu.Lock()
	m.st.add(set, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) RemoveMember(ctx context.Context, set, id string) error {
	m.mu.Lock()
	m.st.remove(set, id)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Members(ctx context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.members(set), nil
}

func (m *memoryStore) ListWatchlists(ctx context.Context) ([]Watchlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.watchlists(), nil
}

func (m *memoryStore) GetWatchlist(ctx context.Context, id string) (Watchlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.st.Watchlists[id]
	if !ok {
		return Watchlist{}, ErrNotFound
	}
	return w.clone(), nil
}

func (m *memoryStore) PutWatchlist(ctx context.Context, w Watchlist) error {
	m.mu.Lock()
	m.st.Watchlists[w.ID] = w.clone()
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) DeleteWatchlist(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.Watchlists[id]; !ok {
		return ErrNotFound
	}
	delete(m.st.Watchlists, id)
	return nil
}

func (m *memoryStore) Close() error { return nil }
