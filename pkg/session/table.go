package session

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

var (
	// ErrUnknownSession means the call id is not (or no longer) in the table.
	// Callers treat it as an ignorable condition.
	ErrUnknownSession = errors.New("unknown session")
	ErrDuplicate      = errors.New("session already registered")
)

const shardCount = 32

// Table maps call ids to sessions. Each entry has its own lock, so mutations
// on one session never wait on another session's work; shard locks are only
// held for map access.
type Table struct {
	shards [shardCount]shard
	now    func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	sess    Session
	removed bool
}

func NewTable() *Table {
	t := &Table{now: time.Now}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*entry)
	}
	return t
}

func (t *Table) shard(callID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return &t.shards[h.Sum32()%shardCount]
}

// Insert registers a new session.
func (t *Table) Insert(s Session) error {
	if s.CallID == "" {
		return errors.New("call id required")
	}
	sh := t.shard(s.CallID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[s.CallID]; ok {
		return ErrDuplicate
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = t.now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	sh.entries[s.CallID] = &entry{sess: s}
	return nil
}

func (t *Table) lookup(callID string) *entry {
	sh := t.shard(callID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.entries[callID]
}

// Get returns a copy of the session.
func (t *Table) Get(callID string) (Session, bool) {
	e := t.lookup(callID)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return e.sess, true
}

// Transition moves the session to `to` if its current state is one of
// `from` and the edge is in the lifecycle graph. mutate, if non-nil, runs
// under the entry lock before the state changes and may fill fields.
// It returns the updated copy.
func (t *Table) Transition(callID string, from []State, to State, mutate func(*Session)) (Session, error) {
	e := t.lookup(callID)
	if e == nil {
		return Session{}, ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrUnknownSession
	}
	cur := e.sess.State
	if !stateIn(cur, from) || !CanTransition(cur, to) {
		return e.sess, &InvalidTransitionError{From: cur, To: to}
	}
	if mutate != nil {
		mutate(&e.sess)
	}
	e.sess.State = to
	e.sess.UpdatedAt = t.now()
	return e.sess, nil
}

// Update mutates non-state fields of a live session.
func (t *Table) Update(callID string, mutate func(*Session)) (Session, error) {
	e := t.lookup(callID)
	if e == nil {
		return Session{}, ErrUnknownSession
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, ErrUnknownSession
	}
	state := e.sess.State
	mutate(&e.sess)
	e.sess.State = state
	e.sess.UpdatedAt = t.now()
	return e.sess, nil
}

// Remove deletes the session and returns its final copy.
func (t *Table) Remove(callID string) (Session, bool) {
	sh := t.shard(callID)
	sh.mu.Lock()
	e := sh.entries[callID]
	delete(sh.entries, callID)
	sh.mu.Unlock()
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	return e.sess, true
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns copies of all live sessions in no particular order.
func (t *Table) Snapshot() []Session {
	var out []Session
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()
		for _, e := range entries {
			e.mu.Lock()
			if !e.removed {
				out = append(out, e.sess)
			}
			e.mu.Unlock()
		}
	}
	return out
}

// Stale returns sessions created before cutoff that are still in one of states.
func (t *Table) Stale(cutoff time.Time, states ...State) []Session {
	var out []Session
	for _, s := range t.Snapshot() {
		if s.CreatedAt.Before(cutoff) && stateIn(s.State, states) {
			out = append(out, s)
		}
	}
	return out
}

func stateIn(s State, set []State) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
