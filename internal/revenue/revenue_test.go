package revenue

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/Earnzy/internal/database"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
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

func TestSyncAdRevenue_Validation(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AdRevenueRequest
		want error
	}{
		{"bad month", AdRevenueRequest{Month: "2026-13", Source: "admob", AmountINR: decimal.NewFromInt(1)}, ErrInvalidMonth},
		{"full date", AdRevenueRequest{Month: "2026-01-01", Source: "admob", AmountINR: decimal.NewFromInt(1)}, ErrInvalidMonth},
		{"uppercase source", AdRevenueRequest{Month: "2026-01", Source: "AdMob", AmountINR: decimal.NewFromInt(1)}, ErrInvalidSource},
		{"empty source", AdRevenueRequest{Month: "2026-01", AmountINR: decimal.NewFromInt(1)}, ErrInvalidSource},
		{"negative", AdRevenueRequest{Month: "2026-01", Source: "admob", AmountINR: decimal.NewFromInt(-1)}, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SyncAdRevenue(ctx, "admin-1", &tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, apierrors.KindValidation, apierrors.KindOf(err))
		})
	}
}

func TestSummary_RejectsEmptyPeriod(t *testing.T) {
	svc := NewService(nil)
	now := time.Now()

	_, err := svc.Summary(context.Background(), now, now)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

// uniqueInstant returns a past microsecond no other test run is likely to book at
func uniqueInstant() time.Time {
	id := uuid.New()
	var n int64
	for _, b := range id[:6] {
		n = n<<8 | int64(b)
	}
	return time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n%(300*24*3600*1_000_000)) * time.Microsecond)
}

func TestSyncAdRevenue_BooksOnceAndSummarises(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := NewService(ledger.NewStore(testDB))
	at := uniqueInstant()
	svc.now = func() time.Time { return at }

	network := "net-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	req := &AdRevenueRequest{Month: "2026-02", Source: network, AmountINR: decimal.RequireFromString("1234.56")}

	entry, err := svc.SyncAdRevenue(ctx, "admin-1", req)
	require.NoError(t, err)
	assert.Equal(t, models.RevenueAd, entry.Source)
	assert.Equal(t, "ad_2026-02_"+network, entry.EntryID)

	_, err = svc.SyncAdRevenue(ctx, "admin-1", req)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))

	// Same month from another network is a separate fact
	other := *req
	other.Source = network + "-b"
	other.AmountINR = decimal.NewFromInt(100)
	_, err = svc.SyncAdRevenue(ctx, "admin-1", &other)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, at, at.Add(time.Microsecond))
	require.NoError(t, err)
	assert.True(t, summary.BySource[models.RevenueAd].Equal(decimal.RequireFromString("1334.56")), "ad total %s", summary.BySource[models.RevenueAd])
	assert.True(t, summary.BySource[models.RevenueWithdrawFee].IsZero())
	assert.True(t, summary.Total.Equal(decimal.RequireFromString("1334.56")))
	assert.Len(t, summary.BySource, len(models.RevenueSources))

	var audits int
	err = testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE target_uid = $1 AND action = $2`,
		entry.EntryID, models.AuditAdRevenueSynced).Scan(&audits)
	require.NoError(t, err)
	assert.Equal(t, 1, audits)
}

func TestAppend_DuplicateWritesNothing(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	at := uniqueInstant()

	meta := models.PlanPurchaseMeta{PlanID: models.PlanGold, PaymentRef: "pay_" + uuid.NewString(), UID: "u1"}

	require.NoError(t, Append(ctx, testDB.Pool, models.NewRevenueEntry(meta, decimal.NewFromInt(249)), at))
	err := Append(ctx, testDB.Pool, models.NewRevenueEntry(meta, decimal.NewFromInt(999)), at)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	var amount decimal.Decimal
	err = testDB.Pool.QueryRow(ctx, `SELECT amount_inr FROM revenue_entries WHERE entry_id = $1`, meta.EntryID()).Scan(&amount)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(249)))
}

func TestListEntries_DecodesMeta(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	ctx := context.Background()
	svc := NewService(ledger.NewStore(testDB))

	meta := models.PlanPurchaseMeta{PlanID: models.PlanSilver, PaymentRef: "pay_" + uuid.NewString(), UID: "u2"}
	require.NoError(t, Append(ctx, testDB.Pool, models.NewRevenueEntry(meta, decimal.NewFromInt(99)), time.Now().UTC().Add(time.Hour)))

	entries, err := svc.ListEntries(ctx, models.RevenuePlanPurchase, 5)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		assert.Equal(t, models.RevenuePlanPurchase, e.Source)
	}
	got, ok := entries[0].Meta.(models.PlanPurchaseMeta)
	require.True(t, ok, "meta decoded as %T", entries[0].Meta)
	assert.Equal(t, meta.PaymentRef, got.PaymentRef)
}
