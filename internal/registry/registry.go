// Package registry maps participant identities to their live connection.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/rps-arena/internal/protocol"
)

// Conn is a live bidirectional channel to one client.
type Conn interface {
	// ID is unique per physical connection.
	ID() string
	Send(ctx context.Context, msg protocol.Outbound) error
}

type binding struct {
	conn    Conn
	matchID string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	byParticipant map[string]binding
	byConn        map[string]string // conn ID -> participant
}

func New() *Registry {
	return &Registry{
		byParticipant: make(map[string]binding),
		byConn:        make(map[string]string),
	}
}

// Bind associates participantID with conn. A previous connection for the
// participant is invalidated; an empty matchID keeps the current association.
func (r *Registry) Bind(participantID string, conn Conn, matchID string) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byParticipant[participantID]; ok {
		if prev.conn.ID() != conn.ID() {
			delete(r.byConn, prev.conn.ID())
		}
		if matchID == "" {
			matchID = prev.matchID
		}
	}
	// a connection speaks for one participant at a time
	if other, ok := r.byConn[conn.ID()]; ok && other != participantID {
		if b, ok := r.byParticipant[other]; ok && b.conn.ID() == conn.ID() {
			delete(r.byParticipant, other)
		}
	}
	r.byParticipant[participantID] = binding{conn: conn, matchID: matchID}
	r.byConn[conn.ID()] = participantID
}

// Resolve returns the participant's live connection.
func (r *Registry) Resolve(participantID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byParticipant[strings.TrimSpace(participantID)]
	if !ok {
		return nil, false
	}
	return b.conn, true
}

// MatchOf returns the match currently associated with participantID.
func (r *Registry) MatchOf(participantID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byParticipant[strings.TrimSpace(participantID)].matchID
}

// SetMatch updates the match association of a bound participant.
func (r *Registry) SetMatch(participantID, matchID string) {
	participantID = strings.TrimSpace(participantID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byParticipant[participantID]; ok {
		b.matchID = matchID
		r.byParticipant[participantID] = b
	}
}

// ClearMatch drops the association only if it still names matchID.
func (r *Registry) ClearMatch(participantID, matchID string) {
	participantID = strings.TrimSpace(participantID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byParticipant[participantID]; ok && b.matchID == matchID {
		b.matchID = ""
		r.byParticipant[participantID] = b
	}
}

// Identity returns the participant a connection is bound to.
func (r *Registry) Identity(conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[conn.ID()]
	return p, ok
}

// Unbind removes conn. ok is false when conn was never bound or had already
// been replaced by a newer connection, in which case the newer binding stays.
func (r *Registry) Unbind(conn Conn) (participantID, matchID string, ok bool) {
	if conn == nil {
		return "", "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.byConn[conn.ID()]
	if !found {
		return "", "", false
	}
	delete(r.byConn, conn.ID())
	b, live := r.byParticipant[p]
	if !live || b.conn.ID() != conn.ID() {
		return "", "", false
	}
	delete(r.byParticipant, p)
	return p, b.matchID, true
}

// Len returns the number of bound participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant)
}
