package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "marketwire/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on
// Close. Unreadable snapshot or journal lines are skipped.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	st           *state
	writes       int
}

const compactEvery = 500

type journalOp string

const (
	opSetPref         journalOp = "set_pref"
	opAddMember       journalOp = "add"
	opRemoveMember    journalOp = "remove"
	opPutWatchlist    journalOp = "put_watchlist"
	opDeleteWatchlist journalOp = "delete_watchlist"
)

type journalRecord struct {
	Op        journalOp  `json:"op"`
	Key       string     `json:"key,omitempty"`
	Value     string     `json:"value,omitempty"`
	Watchlist *Watchlist `json:"watchlist,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable; starting from defaults", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		st:           st,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

// apply mutates state and journals the record.
func (s *fileStore) apply(r journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	applyRecord(s.st, r)

	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func applyRecord(st *state, r journalRecord) {
	switch r.Op {
	case opSetPref:
		st.Prefs[r.Key] = r.Value
	case opAddMember:
		st.add(r.Key, r.Value)
	case opRemoveMember:
		st.remove(r.Key, r.Value)
	case opPutWatchlist:
		if r.Watchlist != nil && r.Watchlist.ID != "" {
			st.Watchlists[r.Watchlist.ID] = r.Watchlist.clone()
		}
	case opDeleteWatchlist:
		delete(st.Watchlists, r.Key)
	}
}

func (s *fileStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.Prefs[key]
	return v, ok, nil
}

func (s *fileStore) SetPref(ctx context.Context, key, value string) error {
	return s.apply(journalRecord{Op: opSetPref, Key: key, Value: value})
}

func (s *fileStore) AddMember(ctx context.Context, set, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return s.apply(journalRecord{Op: opAddMember, Key: set, Value: id})
}

func (s *fileStore) RemoveMember(ctx context.Context, set, id string) error {
	return s.apply(journalRecord{Op: opRemoveMember, Key: set, Value: id})
}

func (s *fileStore) Members(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.members(set), nil
}

func (s *fileStore) ListWatchlists(ctx context.Context) ([]Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.watchlists(), nil
}

func (s *fileStore) GetWatchlist(ctx context.Context, id string) (Watchlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.Watchlists[id]
	if !ok {
		return Watchlist{}, ErrNotFound
	}
	return w.clone(), nil
}

func (s *fileStore) PutWatchlist(ctx context.Context, w Watchlist) error {
	return s.apply(journalRecord{Op: opPutWatchlist, Watchlist: &w})
}

func (s *fileStore) DeleteWatchlist(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.st.Watchlists[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.apply(journalRecord{Op: opDeleteWatchlist, Key: id})
}

func (s *fileStore) compactLocked() error {
	snap := *s.st
	snap.SetLists = make(map[string][]string, len(s.st.Sets))
	for name := range s.st.Sets {
		snap.SetLists[name] = s.st.members(name)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(&snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap state
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Prefs {
		out.Prefs[k] = v
	}
	for name, ids := range snap.SetLists {
		for _, id := range ids {
			out.add(name, id)
		}
	}
	for id, w := range snap.Watchlists {
		out.Watchlists[id] = w
	}
	return nil
}

func replayJournal(path string, out *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for s.Scan() {
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Op == "" {
			continue
		}
		applyRecord(out, r)
	}
	return s.Err()
}
