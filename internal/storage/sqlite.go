package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "marketwire/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) AddMember(ctx context.Context, set, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO set_members(set_name, id, added_at) VALUES(?,?,?)
		 ON CONFLICT(set_name, id) DO NOTHING`,
		set, id, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RemoveMember(ctx context.Context, set, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM set_members WHERE set_name = ? AND id = ?`, set, id)
	return err
}

func (s *sqliteStore) Members(ctx context.Context, set string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM set_members WHERE set_name = ? ORDER BY id`, set)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListWatchlists(ctx context.Context) ([]Watchlist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at, companies FROM watchlists ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Watchlist{}
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetWatchlist(ctx context.Context, id string) (Watchlist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at, companies FROM watchlists WHERE id = ?`, id)
	w, err := scanWatchlist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Watchlist{}, ErrNotFound
	}
	return w, err
}

func (s *sqliteStore) PutWatchlist(ctx context.Context, w Watchlist) error {
	companies := w.Companies
	if companies == nil {
		companies = []WatchedCompany{}
	}
	b, err := json.Marshal(companies)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO watchlists(id, name, created_at, companies) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, companies=excluded.companies`,
		w.ID, w.Name, w.CreatedAt.UnixMilli(), string(b),
	)
	return err
}

func (s *sqliteStore) DeleteWatchlist(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlists WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchlist(r rowScanner) (Watchlist, error) {
	var (
		w         Watchlist
		createdMS int64
		companies string
	)
	if err := r.Scan(&w.ID, &w.Name, &createdMS, &companies); err != nil {
		return Watchlist{}, err
	}
	w.CreatedAt = time.UnixMilli(createdMS)
	if err := json.Unmarshal([]byte(companies), &w.Companies); err != nil {
		return Watchlist{}, fmt.Errorf("watchlist %s companies: %w", w.ID, err)
	}
	return w, nil
}
