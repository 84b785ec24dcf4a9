package fraud

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/aimerfeng/Earnzy/internal/database"
	"github.com/aimerfeng/Earnzy/internal/testutil"
)

var testDB *database.DB

func TestMain(m *testing.M) {
	testDB = testutil.Connect()

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}
	os.Exit(code)
}

// TestProperty_WindowStart_Bucket checks every instant falls in the bucket
// that starts at or before it and ends after it.
func TestProperty_WindowStart_Bucket(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		secs := rapid.Int64Range(0, 4_000_000_000).Draw(rt, "secs")
		nanos := rapid.Int64Range(0, 999_999_999).Draw(rt, "nanos")
		window := time.Duration(rapid.IntRange(1, 3600).Draw(rt, "windowSecs")) * time.Second

		at := time.Unix(secs, nanos)
		start := WindowStart(at, window)

		if start.After(at) || !start.Add(window).After(at) {
			t.Fatalf("PROPERTY VIOLATION: %s not in [%s, +%s)", at, start, window)
		}
		if !WindowStart(start, window).Equal(start) {
			t.Fatalf("PROPERTY VIOLATION: bucket start %s is not its own bucket", start)
		}
	})
}

func TestWindowStart_SameMinute(t *testing.T) {
	a := time.Date(2026, 4, 1, 10, 30, 1, 0, time.UTC)
	b := time.Date(2026, 4, 1, 10, 30, 59, 0, time.UTC)
	c := time.Date(2026, 4, 1, 10, 31, 0, 0, time.UTC)

	assert.Equal(t, WindowStart(a, time.Minute), WindowStart(b, time.Minute))
	assert.NotEqual(t, WindowStart(b, time.Minute), WindowStart(c, time.Minute))
}

func TestGuard_HitAndPrune(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	guard := NewGuard(config.FraudConfig{MaxCompletions: 2, Window: time.Minute})
	uid := testutil.UID("burst")
	at := time.Date(2020, 1, 1, 0, 0, 5, 0, time.UTC)

	// completion_windows has no foreign key, so a bare uid is enough here
	tx, err := testDB.Pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	count, err := guard.Hit(ctx, tx, uid, at)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = guard.Hit(ctx, tx, uid, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = guard.Hit(ctx, tx, uid, at.Add(40*time.Second))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, count)

	count, err = guard.Hit(ctx, tx, uid, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pruned, err := guard.Prune(ctx, tx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, int64(2))

	var left int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM completion_windows WHERE uid = $1`, uid).Scan(&left)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}
