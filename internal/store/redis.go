package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisGateway keeps match records as JSON blobs and standings as hashes.
type RedisGateway struct{ rdb *redis.Client }

// NewRedisGateway dials REDIS_URL and verifies the connection.
func NewRedisGateway(redisURL string) (*RedisGateway, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisGateway{rdb: rdb}, nil
}

// NewRedisGatewayWithClient wraps an existing client. The gateway takes ownership.
func NewRedisGatewayWithClient(rdb *redis.Client) *RedisGateway { return &RedisGateway{rdb: rdb} }

func matchKey(id string) string      { return "arena:match:" + strings.TrimSpace(id) }
func openKey(tid string) string      { return "arena:tournament:" + strings.TrimSpace(tid) + ":open" }
func rosterSetKey(tid string) string { return "arena:tournament:" + strings.TrimSpace(tid) + ":participants" }
func winsKey(tid string) string      { return "arena:tournament:" + strings.TrimSpace(tid) + ":wins" }
func creditKey(id string) string     { return "arena:credit:" + strings.TrimSpace(id) }

// RegisterParticipant adds participantID to the tournament roster.
func (g *RedisGateway) RegisterParticipant(ctx context.Context, tournamentID, participantID string) error {
	return classifyRedis("register participant", g.rdb.SAdd(ctx, rosterSetKey(tournamentID), participantID).Err())
}

// Wins reads the participant's win counter; a missing field reads as zero.
func (g *RedisGateway) Wins(ctx context.Context, tournamentID, participantID string) (int, error) {
	n, err := g.rdb.HGet(ctx, winsKey(tournamentID), participantID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, classifyRedis("wins", err)
}

func (g *RedisGateway) CreateMatchRecord(ctx context.Context, tournamentID, player1, player2 string) (string, error) {
	if strings.TrimSpace(tournamentID) == "" || strings.TrimSpace(player1) == "" {
		return "", Permanent("create match", errInvalidRecord)
	}
	now := time.Now().UTC()
	rec := MatchRecord{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		Player1:      player1,
		Player2:      player2,
		Result:       ResultPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", Permanent("create match", err)
	}
	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, matchKey(rec.ID), raw, 0)
	if player2 == "" {
		pipe.ZAdd(ctx, openKey(tournamentID), redis.Z{Score: float64(now.UnixMicro()), Member: rec.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", classifyRedis("create match", err)
	}
	return rec.ID, nil
}

func (g *RedisGateway) UpdateMatchResult(ctx context.Context, matchID string, result Result, winnerID string) error {
	if !result.Final() {
		return Permanent("update match", errInvalidResult)
	}
	key := matchKey(matchID)
	err := g.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.Result.Final() {
			if cur.Result == result && cur.WinnerID == winnerID {
				return nil
			}
			return ErrConflict
		}
		cur.Result = result
		cur.WinnerID = winnerID
		cur.UpdatedAt = time.Now().UTC()
		raw, err := json.Marshal(cur)
		if err != nil {
			return Permanent("update match", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, 0)
			p.ZRem(ctx, openKey(cur.TournamentID), cur.ID)
			return nil
		})
		return err
	}, key)
	return classifyRedis("update match", err)
}

func (g *RedisGateway) IncrementParticipantWins(ctx context.Context, tournamentID, participantID, matchID string) error {
	ck := creditKey(matchID)
	err := g.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, ck).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		member, err := tx.SIsMember(ctx, rosterSetKey(tournamentID), participantID).Result()
		if err != nil {
			return err
		}
		if !member {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HIncrBy(ctx, winsKey(tournamentID), participantID, 1)
			p.Set(ctx, ck, participantID, 0)
			return nil
		})
		return err
	}, ck)
	return classifyRedis("increment wins", err)
}

func (g *RedisGateway) FindOpenMatch(ctx context.Context, tournamentID string) (string, error) {
	ids, err := g.rdb.ZRange(ctx, openKey(tournamentID), 0, 0).Result()
	if err != nil {
		return "", classifyRedis("find open match", err)
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

func (g *RedisGateway) GetMatchRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	rec, err := loadRecord(ctx, g.rdb, matchKey(matchID))
	if err != nil {
		return nil, classifyRedis("get match", err)
	}
	return rec, nil
}

func (g *RedisGateway) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

func loadRecord(ctx context.Context, c redis.Cmdable, key string) (*MatchRecord, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec MatchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, Permanent("decode match", err)
	}
	return &rec, nil
}

// classifyRedis treats optimistic-lock losses as retryable on top of classify.
func classifyRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, redis.ErrClosed) {
		return Transient(op, err)
	}
	return classify(op, err)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
