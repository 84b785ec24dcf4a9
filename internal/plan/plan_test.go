package plan

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/aimerfeng/Earnzy/internal/database"
	apierrors "github.com/aimerfeng/Earnzy/internal/errors"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/models"
	"github.com/aimerfeng/Earnzy/internal/payment"
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

type fakeVerifier struct {
	calls int
	err   error
	paise int64
}

func (f *fakeVerifier) VerifyCapture(_ context.Context, ref string, amountPaise int64) (*payment.Payment, error) {
	f.calls++
	f.paise = amountPaise
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Payment{ID: ref, Amount: amountPaise, Status: payment.StatusCaptured}, nil
}

func TestCatalog_Prices(t *testing.T) {
	svc := NewService(nil, &fakeVerifier{}, config.DefaultLedgerConfig())
	catalog := svc.Catalog()

	require.Len(t, catalog, 3)
	assert.Equal(t, int64(9900), catalog[0].PricePaise())
	assert.Equal(t, int64(24900), catalog[1].PricePaise())
	assert.Equal(t, int64(49900), catalog[2].PricePaise())

	catalog[0].Name = "changed"
	assert.Equal(t, "Silver", models.PlanCatalog[0].Name)
}

func TestPurchase_RejectsBeforeGateway(t *testing.T) {
	v := &fakeVerifier{}
	svc := NewService(nil, v, config.DefaultLedgerConfig())
	ctx := context.Background()

	_, err := svc.Purchase(ctx, "someone-else", &PurchaseRequest{UID: "u1", PlanID: models.PlanGold, PaymentRef: "pay_1"})
	assert.ErrorIs(t, err, ledger.ErrCallerMismatch)

	_, err = svc.Purchase(ctx, "u1", &PurchaseRequest{UID: "u1", PlanID: models.PlanFree, PaymentRef: "pay_1"})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = svc.Purchase(ctx, "u1", &PurchaseRequest{UID: "u1", PlanID: "diamond", PaymentRef: "pay_1"})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	assert.Zero(t, v.calls)
}

func TestPurchase_GatewayErrorPassesThrough(t *testing.T) {
	v := &fakeVerifier{err: payment.ErrAmountMismatch}
	svc := NewService(nil, v, config.DefaultLedgerConfig())

	_, err := svc.Purchase(context.Background(), "u1", &PurchaseRequest{UID: "u1", PlanID: models.PlanSilver, PaymentRef: "pay_1"})
	assert.ErrorIs(t, err, payment.ErrAmountMismatch)
	assert.Equal(t, apierrors.KindExternal, apierrors.KindOf(err))
	assert.Equal(t, int64(9900), v.paise)
}

func TestPurchase_ActivatesPlanAndBooksRevenue(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	store := ledger.NewStore(testDB)
	svc := NewService(store, &fakeVerifier{}, config.DefaultLedgerConfig())
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	uid := testutil.CreateAccount(t, store, models.Account{})
	ref := testutil.UID("pay")

	activation, err := svc.Purchase(ctx, uid, &PurchaseRequest{UID: uid, PlanID: models.PlanGold, PaymentRef: ref})
	require.NoError(t, err)
	assert.Equal(t, models.PlanGold, activation.Plan)
	assert.True(t, activation.ExpiresAt.Equal(now.Add(30*24*time.Hour)))
	assert.Equal(t, "plan_gold_"+ref, activation.EntryID)

	acc := testutil.MustAccount(t, store, uid)
	assert.Equal(t, models.PlanGold, acc.Plan)
	require.NotNil(t, acc.PlanExpiresAt)
	assert.True(t, acc.PlanExpiresAt.Equal(activation.ExpiresAt))

	var amount string
	err = testDB.Pool.QueryRow(ctx, `SELECT amount_inr::text FROM revenue_entries WHERE entry_id = $1`, activation.EntryID).Scan(&amount)
	require.NoError(t, err)
	assert.Equal(t, "249", amount)

	_, err = svc.Purchase(ctx, uid, &PurchaseRequest{UID: uid, PlanID: models.PlanGold, PaymentRef: ref})
	assert.ErrorIs(t, err, ErrPaymentUsed)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestPurchase_UnknownAccount(t *testing.T) {
	if testDB == nil {
		t.Skip("Test database not available")
	}
	svc := NewService(ledger.NewStore(testDB), &fakeVerifier{}, config.DefaultLedgerConfig())
	uid := testutil.UID("ghost")

	_, err := svc.Purchase(context.Background(), uid, &PurchaseRequest{UID: uid, PlanID: models.PlanSilver, PaymentRef: testutil.UID("pay")})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
