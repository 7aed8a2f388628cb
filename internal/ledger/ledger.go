// Package ledger records the resolution state of every path a session has
// touched. Entries move from Pending to Resolved or Failed and never back.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jward/surface/internal/model"
)

// ErrSettled is returned when writing an entry that is already Resolved or
// Failed.
var ErrSettled = errors.New("ledger: entry already settled")

type State int

const (
	Pending State = iota
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type Entry struct {
	Path    model.Path
	State   State
	Item    *model.Item
	Failure *model.Failure
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[model.Path]*Entry
	order   []model.Path
}

func New() *Ledger {
	return &Ledger{entries: make(map[model.Path]*Entry)}
}

// Claim adds a Pending entry for p. It reports whether p was new.
func (l *Ledger) Claim(p model.Path) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[p]; ok {
		return false
	}
	l.add(&Entry{Path: p, State: Pending})
	return true
}

func (l *Ledger) add(e *Entry) {
	l.entries[e.Path] = e
	l.order = append(l.order, e.Path)
}

// Resolve settles p as Resolved with item.
func (l *Ledger) Resolve(p model.Path, item *model.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[p]
	if !ok {
		l.add(&Entry{Path: p, State: Resolved, Item: item})
		return nil
	}
	if e.State != Pending {
		return fmt.Errorf("resolve %s: %w", p, ErrSettled)
	}
	e.State = Resolved
	e.Item = item
	return nil
}

// Fail settles p as Failed.
func (l *Ledger) Fail(p model.Path, f model.Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[p]
	if !ok {
		l.add(&Entry{Path: p, State: Failed, Failure: &f})
		return nil
	}
	if e.State != Pending {
		return fmt.Errorf("fail %s: %w", p, ErrSettled)
	}
	e.State = Failed
	e.Failure = &f
	return nil
}

// Get returns a copy of the entry for p.
func (l *Ledger) Get(p model.Path) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[p]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Has reports whether p has any entry.
func (l *Ledger) Has(p model.Path) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[p]
	return ok
}

// Settled reports whether p is Resolved or Failed.
func (l *Ledger) Settled(p model.Path) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[p]
	return ok && e.State != Pending
}

// Pending returns pending paths in claim order.
func (l *Ledger) Pending() []model.Path {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Path
	for _, p := range l.order {
		if l.entries[p].State == Pending {
			out = append(out, p)
		}
	}
	return out
}

// Failures returns every failed entry, sorted by path.
func (l *Ledger) Failures() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, p := range l.order {
		if e := l.entries[p]; e.State == Failed {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Less(out[j].Path) })
	return out
}

// Counts returns the number of entries in each state.
func (l *Ledger) Counts() (pending, resolved, failed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		switch e.State {
		case Pending:
			pending++
		case Resolved:
			resolved++
		case Failed:
			failed++
		}
	}
	return pending, resolved, failed
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
