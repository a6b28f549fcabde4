// Package ledger maps source-system identifiers to store-assigned
// identifiers. It is the deduplication authority for an import run.
package ledger

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrRebind is returned when a source id is recorded against a second,
// different store id.
var ErrRebind = errors.New("ledger: source id already bound to a different store id")

// Ledger is written by a single goroutine (the import loop). The mutex only
// protects concurrent readers such as the status server.
type Ledger struct {
	mu          sync.RWMutex
	ids         map[string]string
	institution string
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{ids: make(map[string]string)}
}

// Resolve returns the store id recorded for sourceID.
func (l *Ledger) Resolve(sourceID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.ids[sourceID]
	return id, ok
}

// Record binds sourceID to storeID. Recording the same pair again is a no-op;
// recording a different storeID for a bound sourceID fails with ErrRebind and
// leaves the existing binding untouched.
func (l *Ledger) Record(sourceID, storeID string) error {
	if sourceID == "" || storeID == "" {
		return fmt.Errorf("ledger: empty id (source=%q store=%q)", sourceID, storeID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.ids[sourceID]; ok {
		if existing == storeID {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s (attempted %s)", ErrRebind, sourceID, existing, storeID)
	}
	l.ids[sourceID] = storeID
	return nil
}

// Institution returns the institution store id, if set.
func (l *Ledger) Institution() (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.institution, l.institution != ""
}

// SetInstitution fills the institution slot. Like Record it is write-once.
func (l *Ledger) SetInstitution(storeID string) error {
	if storeID == "" {
		return errors.New("ledger: empty institution id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.institution != "" && l.institution != storeID {
		return fmt.Errorf("%w: institution %s (attempted %s)", ErrRebind, l.institution, storeID)
	}
	l.institution = storeID
	return nil
}

// Snapshot returns a copy of the id map.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.ids)
}

// LoadSnapshot merges snapshot into the ledger under the write-once rule.
func (l *Ledger) LoadSnapshot(snapshot map[string]string) error {
	for src, id := range snapshot {
		if err := l.Record(src, id); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of mapped source ids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
