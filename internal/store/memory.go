package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway is an in-process Gateway used for local development and tests.
type MemoryGateway struct {
	mu sync.RWMutex

	matches map[string]*MatchRecord
	wins    map[string]int      // tournamentID|participantID -> wins
	roster  map[string]struct{} // tournamentID|participantID
	credits map[string]struct{} // matchIDs already credited
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		matches: make(map[string]*MatchRecord),
		wins:    make(map[string]int),
		roster:  make(map[string]struct{}),
		credits: make(map[string]struct{}),
	}
}

// RegisterParticipant seeds the tournament roster. Roster management
// belongs to the tournament service; this exists for dev setups and tests.
func (m *MemoryGateway) RegisterParticipant(tournamentID, participantID string) {
	m.mu.Lock()
	m.roster[rosterKey(tournamentID, participantID)] = struct{}{}
	m.mu.Unlock()
}

// Wins returns the participant's current win counter.
func (m *MemoryGateway) Wins(tournamentID, participantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wins[rosterKey(tournamentID, participantID)]
}

func (m *MemoryGateway) CreateMatchRecord(ctx context.Context, tournamentID, player1, player2 string) (string, error) {
	if strings.TrimSpace(tournamentID) == "" || strings.TrimSpace(player1) == "" {
		return "", Permanent("create match", errInvalidRecord)
	}
	now := time.Now().UTC()
	rec := &MatchRecord{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		Player1:      player1,
		Player2:      player2,
		Result:       ResultPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.mu.Lock()
	m.matches[rec.ID] = rec
	m.mu.Unlock()
	return rec.ID, nil
}

func (m *MemoryGateway) UpdateMatchResult(ctx context.Context, matchID string, result Result, winnerID string) error {
	if !result.Final() {
		return Permanent("update match", errInvalidResult)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if rec.Result.Final() {
		if rec.Result == result && rec.WinnerID == winnerID {
			return nil
		}
		return ErrConflict
	}
	rec.Result = result
	rec.WinnerID = winnerID
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryGateway) IncrementParticipantWins(ctx context.Context, tournamentID, participantID, matchID string) error {
	key := rosterKey(tournamentID, participantID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.credits[matchID]; done {
		return nil
	}
	if _, ok := m.roster[key]; !ok {
		return ErrNotFound
	}
	m.wins[key]++
	m.credits[matchID] = struct{}{}
	return nil
}

func (m *MemoryGateway) FindOpenMatch(ctx context.Context, tournamentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []*MatchRecord
	for _, rec := range m.matches {
		if rec.TournamentID == tournamentID && rec.Player2 == "" && rec.Result == ResultPending {
			open = append(open, rec)
		}
	}
	if len(open) == 0 {
		return "", ErrNotFound
	}
	// oldest first, same as the SQL backend
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open[0].ID, nil
}

func (m *MemoryGateway) GetMatchRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryGateway) Close() error { return nil }

func rosterKey(tournamentID, participantID string) string {
	return strings.TrimSpace(tournamentID) + "|" + strings.TrimSpace(participantID)
}
