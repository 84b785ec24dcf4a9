package moderation

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/Earnzy/internal/database"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/models"
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

func newTestService(t *testing.T) (*Service, *ledger.Store) {
	t.Helper()
	if testDB == nil {
		t.Skip("Test database not available")
	}
	store := ledger.NewStore(testDB)
	return NewService(store), store
}

func TestFlagUser_IdempotentButAudited(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	uid := testutil.CreateAccount(t, store, models.Account{WithdrawableCoins: 5000})

	first, err := svc.FlagUser(ctx, "admin-1", uid, "multiple devices")
	require.NoError(t, err)
	assert.True(t, first.Flagged)
	assert.False(t, first.AlreadyFlagged)

	second, err := svc.FlagUser(ctx, "admin-2", uid, "chargeback")
	require.NoError(t, err)
	assert.True(t, second.AlreadyFlagged)

	acc := testutil.MustAccount(t, store, uid)
	assert.True(t, acc.Flagged)
	assert.Equal(t, int64(5000), acc.WithdrawableCoins)

	logs, err := svc.ListAuditLogs(ctx, uid, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, models.AuditUserFlagged, l.Action)
		assert.Equal(t, uid, l.TargetUID)
	}
	admins := []string{logs[0].AdminUID, logs[1].AdminUID}
	assert.ElementsMatch(t, []string{"admin-1", "admin-2"}, admins)
}

func TestFlagUser_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.FlagUser(ctx, "admin-1", testutil.UID("ghost"), "spam")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = svc.FlagUser(ctx, "admin-1", testutil.UID("ghost"), "   ")
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestListAuditLogs_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	logs, err := svc.ListAuditLogs(context.Background(), testutil.UID("nobody"), 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.NotNil(t, logs)
}
