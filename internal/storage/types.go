package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", Open returns a nil Store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API. Sets are unordered collections of ids keyed
// by name (viewed announcements, saved filings); Members returns them sorted.
type Store interface {
	GetPref(ctx context.Context, key string) (value string, ok bool, err error)
	SetPref(ctx context.Context, key, value string) error

	AddMember(ctx context.Context, set, id string) error
	RemoveMember(ctx context.Context, set, id string) error
	Members(ctx context.Context, set string) ([]string, error)

	ListWatchlists(ctx context.Context) ([]Watchlist, error)
	GetWatchlist(ctx context.Context, id string) (Watchlist, error)
	PutWatchlist(ctx context.Context, w Watchlist) error
	DeleteWatchlist(ctx context.Context, id string) error

	Close() error
}

type WatchedCompany struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Ticker string `json:"ticker,omitempty"`
	ISIN   string `json:"isin,omitempty"`
}

type Watchlist struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Companies []WatchedCompany `json:"companies"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (w Watchlist) clone() Watchlist {
	w.Companies = append([]WatchedCompany(nil), w.Companies...)
	return w
}
