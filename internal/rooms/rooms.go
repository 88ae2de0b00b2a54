// Package rooms derives which live topic rooms to be in from the current
// filters and the loaded announcement set.
package rooms

import (
	"sort"
	"strings"
	"sync"

	"marketwire/internal/announcement"
	logx "marketwire/pkg/logx"
)

const (
	RoomAll        = "all"
	companyPrefix  = "company:"
	industryPrefix = "industry:"
	categoryPrefix = "category:"
)

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Filters struct {
	SelectedCompany string    `json:"selectedCompany"`
	Industries      []string  `json:"selectedIndustries"`
	Categories      []string  `json:"selectedCategories"`
	Sentiments      []string  `json:"selectedSentiments"`
	SearchTerm      string    `json:"searchTerm"`
	DateRange       DateRange `json:"dateRange"`
}

// SingleIndustry returns the industry when exactly one is selected.
func (f Filters) SingleIndustry() (string, bool) {
	if len(f.Industries) != 1 || strings.TrimSpace(f.Industries[0]) == "" {
		return "", false
	}
	return f.Industries[0], true
}

func (f Filters) Clone() Filters {
	f.Industries = append([]string(nil), f.Industries...)
	f.Categories = append([]string(nil), f.Categories...)
	f.Sentiments = append([]string(nil), f.Sentiments...)
	return f
}

// Desired computes the room set. Nothing is desired while disconnected.
// Several industries at once subscribe to none of them.
func Desired(connected bool, f Filters, loaded []announcement.Announcement) map[string]struct{} {
	out := map[string]struct{}{}
	if !connected {
		return out
	}
	add := func(room string) {
		if strings.TrimSpace(room) != "" {
			out[room] = struct{}{}
		}
	}
	add(RoomAll)
	if f.SelectedCompany != "" {
		add(companyPrefix + f.SelectedCompany)
	}
	if ind, ok := f.SingleIndustry(); ok {
		add(industryPrefix + ind)
	}
	for _, c := range f.Categories {
		if c != "" {
			add(categoryPrefix + c)
		}
	}
	for _, a := range loaded {
		add(a.Ticker)
		add(a.ISIN)
	}
	return out
}

// Joiner is the subset of the connection manager the policy drives.
type Joiner interface {
	JoinRoom(room string)
	LeaveRoom(room string)
}

// Policy keeps a joiner's rooms equal to the last desired set.
type Policy struct {
	j   Joiner
	log logx.Logger

	mu     sync.Mutex
	joined map[string]struct{}
}

func NewPolicy(j Joiner, log logx.Logger) *Policy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Policy{j: j, log: log, joined: map[string]struct{}{}}
}

// Sync leaves rooms no longer desired, then joins new ones. It returns the
// rooms joined and left, sorted.
func (p *Policy) Sync(connected bool, f Filters, loaded []announcement.Announcement) (joined, left []string) {
	want := Desired(connected, f, loaded)

	p.mu.Lock()
	defer p.mu.Unlock()
	for room := range p.joined {
		if _, ok := want[room]; !ok {
			left = append(left, room)
		}
	}
	for room := range want {
		if _, ok := p.joined[room]; !ok {
			joined = append(joined, room)
		}
	}
	sort.Strings(left)
	sort.Strings(joined)

	for _, room := range left {
		p.j.LeaveRoom(room)
		delete(p.joined, room)
	}
	for _, room := range joined {
		p.j.JoinRoom(room)
		p.joined[room] = struct{}{}
	}
	if len(joined) > 0 || len(left) > 0 {
		p.log.Debug("rooms synced", logx.Strings("joined", joined), logx.Strings("left", left))
	}
	return joined, left
}

// Close leaves every room the policy joined.
func (p *Policy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for room := range p.joined {
		p.j.LeaveRoom(room)
	}
	p.joined = map[string]struct{}{}
}

func (p *Policy) Joined() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.joined))
	for room := range p.joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
