// Package lobby holds per-tournament FIFO queues of participants waiting for an opponent.
package lobby

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyQueued = errors.New("participant already waiting")
	ErrPairing       = errors.New("participant is being paired")
	ErrInvalidEntry  = errors.New("tournament and participant are required")
)

// Entry is one waiting participant.
type Entry struct {
	ParticipantID string
	EnqueuedAt    time.Time
}

// Pair is two entries removed together from the head of a queue. First becomes player-1.
type Pair struct {
	TournamentID string
	First        Entry
	Second       Entry
}

// Manager owns every tournament queue. All queues share one mutex; no
// operation performs I/O while holding it.
type Manager struct {
	mu      sync.Mutex
	queues  map[string][]Entry  // tournamentID -> FIFO
	where   map[string]string   // participantID -> tournamentID while queued
	pairing map[string]struct{} // participants reserved until Release
	now     func() time.Time
}

func New() *Manager {
	return &Manager{
		queues:  make(map[string][]Entry),
		where:   make(map[string]string),
		pairing: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Enqueue appends e to the tournament queue. When two or more entries are
// waiting, the two oldest are removed, reserved and returned.
func (m *Manager) Enqueue(tournamentID string, e Entry) (*Pair, error) {
	tournamentID = strings.TrimSpace(tournamentID)
	e.ParticipantID = strings.TrimSpace(e.ParticipantID)
	if tournamentID == "" || e.ParticipantID == "" {
		return nil, ErrInvalidEntry
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.where[e.ParticipantID]; ok {
		return nil, ErrAlreadyQueued
	}
	if _, ok := m.pairing[e.ParticipantID]; ok {
		return nil, ErrPairing
	}

	q := append(m.queues[tournamentID], e)
	m.where[e.ParticipantID] = tournamentID
	if len(q) < 2 {
		m.queues[tournamentID] = q
		return nil, nil
	}

	p := &Pair{TournamentID: tournamentID, First: q[0], Second: q[1]}
	rest := q[2:]
	if len(rest) == 0 {
		delete(m.queues, tournamentID)
	} else {
		m.queues[tournamentID] = append([]Entry(nil), rest...)
	}
	for _, id := range []string{p.First.ParticipantID, p.Second.ParticipantID} {
		delete(m.where, id)
		m.pairing[id] = struct{}{}
	}
	return p, nil
}

// RemoveIfWaiting drops the participant's entry if it is still queued.
func (m *Manager) RemoveIfWaiting(participantID string) bool {
	participantID = strings.TrimSpace(participantID)
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, ok := m.where[participantID]
	if !ok {
		return false
	}
	delete(m.where, participantID)
	q := m.queues[tid]
	for i := range q {
		if q[i].ParticipantID == participantID {
			q = append(q[:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(m.queues, tid)
	} else {
		m.queues[tid] = q
	}
	return true
}

// Release ends the pairing reservation for the given participants.
func (m *Manager) Release(participantIDs ...string) {
	m.mu.Lock()
	for _, id := range participantIDs {
		delete(m.pairing, strings.TrimSpace(id))
	}
	m.mu.Unlock()
}

// Pairing reports whether participantID is reserved for a match being created.
func (m *Manager) Pairing(participantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pairing[strings.TrimSpace(participantID)]
	return ok
}

// Waiting returns the queue length for one tournament.
func (m *Manager) Waiting(tournamentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[strings.TrimSpace(tournamentID)])
}

// Len returns the number of queued participants across all tournaments.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.where)
}

// Snapshot returns the participant IDs queued for a tournament, oldest first.
func (m *Manager) Snapshot(tournamentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[strings.TrimSpace(tournamentID)]
	out := make([]string, len(q))
	for i, e := range q {
		out[i] = e.ParticipantID
	}
	return out
}
