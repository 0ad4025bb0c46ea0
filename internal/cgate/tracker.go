package cgate

import (
	"sync"
	"time"
)

// onceEntry is a pending single-shot level listener for one Address.
type onceEntry struct {
	callback func(level int)
	timer    *time.Timer
}

// Tracker maintains the last known level for every Address seen on the
// event or command channel, and supports registering a single one-shot
// listener per Address — used by relative-dim commands that must read
// the current level before computing a new one.
//
// Grounded on the teacher's bridge.go stateCache (mutex-guarded map) and
// the request/response "once" pattern in the design notes, replacing the
// original's event-emitter with explicit registration.
type Tracker struct {
	mu     sync.Mutex
	levels map[Address]int
	once   map[Address]*onceEntry
	logger Logger
}

// NewTracker creates an empty tracker. logger may be nil.
func NewTracker(logger Logger) *Tracker {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Tracker{
		levels: make(map[Address]int),
		once:   make(map[Address]*onceEntry),
		logger: logger,
	}
}

// Update records a newly observed level for addr and fires any pending
// once-listener registered for it.
func (t *Tracker) Update(addr Address, level int) {
	t.mu.Lock()
	t.levels[addr] = level
	entry := t.once[addr]
	if entry != nil {
		delete(t.once, addr)
		entry.timer.Stop()
	}
	t.mu.Unlock()

	if entry != nil {
		entry.callback(level)
	}
}

// Level returns the last known level for addr, if any.
func (t *Tracker) Level(addr Address) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	level, ok := t.levels[addr]
	return level, ok
}

// Once registers a single-shot listener for addr's next level update. If
// callback has not fired within timeout, it is withdrawn and never
// invoked; the caller learns of a timeout only via its own absence of a
// callback (per spec, nothing is emitted on timeout beyond a log line).
// Returns ErrDuplicateOnce if addr already has a pending listener.
func (t *Tracker) Once(addr Address, timeout time.Duration, callback func(level int)) error {
	t.mu.Lock()
	if _, exists := t.once[addr]; exists {
		t.mu.Unlock()
		t.logger.Warn("duplicate once() registration rejected", "address", addr.String())
		return ErrDuplicateOnce
	}

	entry := &onceEntry{callback: callback}
	entry.timer = time.AfterFunc(timeout, func() { t.expireOnce(addr) })
	t.once[addr] = entry
	t.mu.Unlock()
	return nil
}

func (t *Tracker) expireOnce(addr Address) {
	t.mu.Lock()
	_, exists := t.once[addr]
	if exists {
		delete(t.once, addr)
	}
	t.mu.Unlock()

	if exists {
		t.logger.Warn("once() registration timed out, dropping pending operation", "address", addr.String())
	}
}
