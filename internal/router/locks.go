package router

import "sync"

// ticketLocks serializes mutating transitions per ticket. A transition holds
// at most one ticket lock plus at most one room claim, always in that order,
// so cross-ticket deadlock cannot occur.
type ticketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTicketLocks() *ticketLocks {
	return &ticketLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *ticketLocks) lock(ticketID string) func() {
	l.mu.Lock()
	m, ok := l.locks[ticketID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ticketID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
