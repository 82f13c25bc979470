package match

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrDuplicateMatch  = errors.New("match already running")
	ErrParticipantBusy = errors.New("participant already in a live match")
)

// Store is the table of live match actors, keyed by match ID, with an index
// from participant to the match they are playing.
type Store struct {
	mu            sync.RWMutex
	actors        map[string]*Actor
	byParticipant map[string]string
	wg            sync.WaitGroup
}

func NewStore() *Store {
	return &Store{
		actors:        make(map[string]*Actor),
		byParticipant: make(map[string]string),
	}
}

// Start registers sess and runs its actor until the match ends or ctx is canceled.
func (s *Store) Start(ctx context.Context, sess *Session, deps Deps) (*Actor, error) {
	a := newActor(sess, deps)
	if err := s.Add(a); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run(ctx, func() {
			snap := a.sess.Snapshot()
			s.Remove(a.id)
			if deps.OnClose != nil {
				deps.OnClose(snap)
			}
		})
	}()
	return a, nil
}

// Add registers an actor without running it.
func (s *Store) Add(a *Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[a.id]; ok {
		return ErrDuplicateMatch
	}
	for _, p := range a.players {
		if p == "" {
			continue
		}
		if id, ok := s.byParticipant[p]; ok {
			if other := s.actors[id]; other != nil && !other.Closing() {
				return ErrParticipantBusy
			}
		}
	}
	s.actors[a.id] = a
	for _, p := range a.players {
		if p != "" {
			s.byParticipant[p] = a.id
		}
	}
	return nil
}

func (s *Store) Get(matchID string) (*Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[matchID]
	return a, ok
}

// MatchOf returns the live match participantID is playing. Matches whose
// outcome is already decided do not count.
func (s *Store) MatchOf(participantID string) (*Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byParticipant[participantID]
	if !ok {
		return nil, false
	}
	a := s.actors[id]
	if a == nil || a.Closing() {
		return nil, false
	}
	return a, true
}

// Remove drops the actor and its participant index entries.
func (s *Store) Remove(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[matchID]
	if !ok {
		return
	}
	delete(s.actors, matchID)
	for _, p := range a.players {
		if p != "" && s.byParticipant[p] == matchID {
			delete(s.byParticipant, p)
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actors)
}

// Wait blocks until every started actor has exited.
func (s *Store) Wait() { s.wg.Wait() }
