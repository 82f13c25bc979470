package store

import (
	"context"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestClassifyPostgres(t *testing.T) {
	cases := []struct {
		code      pq.ErrorCode
		transient bool
	}{
		{"08006", true},  // connection_failure
		{"40001", true},  // serialization_failure
		{"40P01", true},  // deadlock_detected
		{"53300", true},  // too_many_connections
		{"57P01", true},  // admin_shutdown
		{"57014", false}, // query_canceled
		{"23505", false}, // unique_violation
		{"42P01", false}, // undefined_table
	}
	for _, tc := range cases {
		err := classifyPostgres("op", &pq.Error{Code: tc.code})
		require.Equal(t, tc.transient, IsTransient(err), "code %s", tc.code)
	}
}

// TestPostgresGateway runs against a live database when ARENA_TEST_DATABASE_URL is set.
func TestPostgresGateway(t *testing.T) {
	dsn := os.Getenv("ARENA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ARENA_TEST_DATABASE_URL not set")
	}
	gw, err := NewPostgresGateway(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	ctx := context.Background()
	require.NoError(t, gw.EnsureSchema(ctx))
	_, err = gw.db.ExecContext(ctx, `TRUNCATE matches, tournament_participants, match_win_credits`)
	require.NoError(t, err)

	runGatewayContract(t, gw,
		func(t *testing.T, tid, pid string) {
			require.NoError(t, gw.RegisterParticipant(ctx, tid, pid))
		},
		func(t *testing.T, tid, pid string) int {
			var n int
			err := gw.db.QueryRowContext(ctx,
				`SELECT wins FROM tournament_participants WHERE tournament_id = $1 AND participant_id = $2`, tid, pid).Scan(&n)
			require.NoError(t, err)
			return n
		},
	)
}
