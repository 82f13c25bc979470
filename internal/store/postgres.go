package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// PostgresGateway persists matches and standings through database/sql and lib/pq.
type PostgresGateway struct {
	db *sql.DB
}

func NewPostgresGateway(databaseURL string) (*PostgresGateway, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresGateway{db: db}, nil
}

// EnsureSchema creates the tables this gateway needs when they are missing.
func (p *PostgresGateway) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RegisterParticipant adds a roster row; existing rows are left untouched.
func (p *PostgresGateway) RegisterParticipant(ctx context.Context, tournamentID, participantID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tournament_participants (tournament_id, participant_id) VALUES ($1, $2)
		 ON CONFLICT (tournament_id, participant_id) DO NOTHING`,
		tournamentID, participantID)
	return classifyPostgres("register participant", err)
}

func (p *PostgresGateway) CreateMatchRecord(ctx context.Context, tournamentID, player1, player2 string) (string, error) {
	if strings.TrimSpace(tournamentID) == "" || strings.TrimSpace(player1) == "" {
		return "", Permanent("create match", errInvalidRecord)
	}
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO matches (match_id, tournament_id, player1, player2, result)
		 VALUES ($1, $2, $3, NULLIF($4, ''), 'pending')`,
		id, tournamentID, player1, player2)
	if err != nil {
		return "", classifyPostgres("create match", err)
	}
	return id, nil
}

func (p *PostgresGateway) UpdateMatchResult(ctx context.Context, matchID string, result Result, winnerID string) error {
	if !result.Final() {
		return Permanent("update match", errInvalidResult)
	}
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var cur string
		var winner sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT result, winner FROM matches WHERE match_id = $1 FOR UPDATE`, matchID).Scan(&cur, &winner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if Result(cur).Final() {
			if Result(cur) == result && winner.String == winnerID {
				return nil
			}
			return ErrConflict
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE matches SET result = $2, winner = NULLIF($3, ''), updated_at = now() WHERE match_id = $1`,
			matchID, string(result), winnerID)
		return err
	})
	return classifyPostgres("update match", err)
}

func (p *PostgresGateway) IncrementParticipantWins(ctx context.Context, tournamentID, participantID, matchID string) error {
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO match_win_credits (match_id, tournament_id, participant_id) VALUES ($1, $2, $3)
			 ON CONFLICT (match_id) DO NOTHING`,
			matchID, tournamentID, participantID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE tournament_participants SET wins = wins + 1 WHERE tournament_id = $1 AND participant_id = $2`,
			tournamentID, participantID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return classifyPostgres("increment wins", err)
}

func (p *PostgresGateway) FindOpenMatch(ctx context.Context, tournamentID string) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx,
		`SELECT match_id FROM matches
		 WHERE tournament_id = $1 AND player2 IS NULL AND result = 'pending'
		 ORDER BY created_at LIMIT 1`, tournamentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", classifyPostgres("find open match", err)
	}
	return id, nil
}

func (p *PostgresGateway) GetMatchRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	var rec MatchRecord
	var player2, winner sql.NullString
	var result string
	err := p.db.QueryRowContext(ctx,
		`SELECT match_id, tournament_id, player1, player2, winner, result, created_at, updated_at
		 FROM matches WHERE match_id = $1`, matchID).
		Scan(&rec.ID, &rec.TournamentID, &rec.Player1, &player2, &winner, &result, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPostgres("get match", err)
	}
	rec.Player2 = player2.String
	rec.WinnerID = winner.String
	rec.Result = Result(result)
	return &rec, nil
}

func (p *PostgresGateway) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresGateway) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// classifyPostgres marks connection, serialization and resource SQLSTATE classes as retryable.
func classifyPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return Transient(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53":
			return Transient(op, err)
		case "57":
			// admin or crash shutdown, cannot connect now
			if pqErr.Code == "57P01" || pqErr.Code == "57P02" || pqErr.Code == "57P03" {
				return Transient(op, err)
			}
		}
		return Permanent(op, err)
	}
	return classify(op, err)
}
