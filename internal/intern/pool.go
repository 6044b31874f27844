// Package intern implements the process-wide string-to-id pool (C1):
// service names, operation names and attribute keys are interned once and
// referenced everywhere else by their 16-bit id, keeping the column store's
// rows fixed width. Grounded on the teacher's pkg/intern value-interning
// package, generalized here to hand out stable small-integer ids instead of
// shared string pointers, since the store needs a fixed-width handle.
package intern

import (
	"errors"
	"strings"
	"sync"
)

// MaxIDs is the process-wide ceiling on distinct interned strings, per
// spec.md §4.1: a 16-bit id space holds at most 65536 values, and id 0 is
// reserved to mean "unset" so the usable ceiling is 65535.
const MaxIDs = 1<<16 - 1

// ErrPoolExhausted is returned by Intern once MaxIDs distinct strings have
// been registered. Callers on a fixed, known-small domain (service names)
// should pre-register hot values during startup to avoid hitting this path
// on the request hot path.
var ErrPoolExhausted = errors.New("intern: pool exhausted, id space is full")

// ID is a 16-bit handle into a Pool. The zero value is never assigned by
// Intern and can be used by callers as an "unset" sentinel.
type ID uint16

// Pool maps strings to ids and back. Reads never block writers of unrelated
// keys: the common path is a single RLock'd map lookup, and the only
// exclusive section is the first-insert case.
type Pool struct {
	mu      sync.RWMutex
	byValue map[string]ID
	byID    []string // byID[0] is the unset sentinel, unused
}

// New returns an empty, pre-sized pool.
func New() *Pool {
	return &Pool{
		byValue: make(map[string]ID, 1024),
		byID:    append(make([]string, 0, 1025), ""),
	}
}

// Intern maps s to a stable id, assigning a new one on first sight. It is
// idempotent: repeated calls with an equal string return the same id.
func (p *Pool) Intern(s string) (ID, error) {
	p.mu.RLock()
	if id, ok := p.byValue[s]; ok {
		p.mu.RUnlock()
		return id, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another writer may have raced us between the RUnlock and Lock above.
	if id, ok := p.byValue[s]; ok {
		return id, nil
	}

	if len(p.byID) > MaxIDs {
		return 0, ErrPoolExhausted
	}

	// strings.Clone copies s onto its own backing array: without this the
	// pool would retain a reference to whatever larger buffer s was sliced
	// from (e.g. a protobuf scratch buffer the receiver reuses per call),
	// keeping it alive for as long as the interned id is held.
	owned := strings.Clone(s)
	id := ID(len(p.byID))
	p.byID = append(p.byID, owned)
	p.byValue[owned] = id
	return id, nil
}

// Lookup returns the id already registered for s without assigning a new
// one, for callers (the store's service-name index) that only want to know
// whether a value has ever been interned.
func (p *Pool) Lookup(s string) (ID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byValue[s]
	return id, ok
}

// Resolve returns the string registered for id, or ("", false) if id was
// never assigned by this pool.
func (p *Pool) Resolve(id ID) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(id) <= 0 || int(id) >= len(p.byID) {
		return "", false
	}
	return p.byID[id], true
}

// Len reports the number of distinct strings currently interned.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID) - 1
}
