// Package lock provides exclusive per-key locks used to serialize mutations
// of a visit and its rating slips.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var ErrEmptyKey = errors.New("lock key is empty")

// Locker acquires an exclusive lock for key, blocking until it is held or ctx
// is done. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// PlayerKey scopes a lock to one player of one organization.
func PlayerKey(orgID, playerID snowflake.ID) string {
	return fmt.Sprintf("player:%s:%s", orgID, playerID)
}

// VisitKey scopes a lock to one visit of one organization.
func VisitKey(orgID, visitID snowflake.ID) string {
	return fmt.Sprintf("visit:%s:%s", orgID, visitID)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.unref(key, entry)
		})
	}, nil
}

func (l *Local) unref(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
