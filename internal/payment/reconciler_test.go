package payment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/pagelease/internal/database"
	"github.com/daap14/pagelease/internal/deployment"
	"github.com/daap14/pagelease/internal/entitlement"
	"github.com/daap14/pagelease/internal/payment"
	"github.com/daap14/pagelease/internal/plan"
	"github.com/daap14/pagelease/internal/publisher"
)

var now = time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	payments     *payment.MemoryRepository
	entitlements *entitlement.Store
	deployments  *deployment.Manager
	reconciler   *payment.Reconciler
}

func newFixture() *fixture {
	f := &fixture{payments: payment.NewMemoryRepository()}
	f.entitlements = entitlement.NewStore(entitlement.NewMemoryRepository(),
		entitlement.WithClock(clock), entitlement.WithMaxAttempts(100))
	f.deployments = deployment.NewManager(deployment.NewMemoryRepository(), publisher.LogPublisher{},
		f.entitlements, plan.DefaultPolicy(), deployment.WithClock(clock))
	f.reconciler = payment.NewReconciler(f.payments, database.Passthrough{}, f.entitlements, f.deployments).WithClock(clock)
	return f
}

func paidEvent(ref, fp string) payment.Event {
	return payment.Event{
		Provider:    payment.ProviderStripe,
		ExternalID:  ref,
		Fingerprint: fp,
		Tier:        plan.TierSupporter,
		Months:      3,
		AmountCents: 500,
		Currency:    "gbp",
		Status:      payment.StatusPaid,
	}
}

func (f *fixture) supporterUntil(t *testing.T, fp string) *time.Time {
	t.Helper()
	v, err := f.entitlements.Get(context.Background(), fp)
	require.NoError(t, err)
	return v.SupporterUntil
}

func TestApply_DuplicateAppliesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.reconciler.Apply(ctx, paidEvent("cs_1", "fp"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, first.Outcome)
	assert.True(t, first.Applied())

	second, err := f.reconciler.Apply(ctx, paidEvent("cs_1", "fp"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, second.Outcome)

	until := f.supporterUntil(t, "fp")
	require.NotNil(t, until)
	assert.True(t, until.Equal(time.Date(2024, time.April, 30, 12, 0, 0, 0, time.UTC)), "got %s", until)
}

func TestApply_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var applied atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.reconciler.Apply(ctx, paidEvent("cs_race", "fp"))
			assert.NoError(t, err)
			if res.Applied() {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	until := f.supporterUntil(t, "fp")
	require.NotNil(t, until)
	assert.True(t, until.Equal(plan.AddMonths(now, 3)))
}

func TestApply_SameReferenceDifferentProviders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stripe := paidEvent("ref-1", "fp")
	bmc := paidEvent("ref-1", "fp")
	bmc.Provider = payment.ProviderBMC

	r1, err := f.reconciler.Apply(ctx, stripe)
	require.NoError(t, err)
	r2, err := f.reconciler.Apply(ctx, bmc)
	require.NoError(t, err)

	assert.True(t, r1.Applied())
	assert.True(t, r2.Applied())
}

func TestApply_PendingThenPaidPromotes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := paidEvent("cs_async", "fp")
	pending.Status = payment.StatusPending

	res, err := f.reconciler.Apply(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRecorded, res.Outcome)
	assert.Nil(t, f.supporterUntil(t, "fp"))

	res, err = f.reconciler.Apply(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, res.Outcome)

	res, err = f.reconciler.Apply(ctx, paidEvent("cs_async", "fp"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, res.Outcome)
	assert.NotNil(t, f.supporterUntil(t, "fp"))

	res, err = f.reconciler.Apply(ctx, paidEvent("cs_async", "fp"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, res.Outcome)

	stored, err := f.payments.GetByExternalID(ctx, payment.ProviderStripe, "cs_async")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, stored.Status)
}

func TestApply_WithoutFingerprintIsRecorded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ev := paidEvent("bmc-42", "")
	ev.Provider = payment.ProviderBMC

	res, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeRecorded, res.Outcome)

	stored, err := f.payments.GetByExternalID(ctx, payment.ProviderBMC, "bmc-42")
	require.NoError(t, err)
	assert.Nil(t, stored.Fingerprint)
	assert.Equal(t, "supporter-3m", stored.Plan)
	assert.Equal(t, "GBP", stored.Currency)
}

func TestApply_InvalidEvent(t *testing.T) {
	f := newFixture()

	ev := paidEvent("", "fp")
	_, err := f.reconciler.Apply(context.Background(), ev)
	assert.ErrorIs(t, err, payment.ErrInvalidEvent)

	ev = paidEvent("x", "fp")
	ev.Tier = plan.TierFree
	_, err = f.reconciler.Apply(context.Background(), ev)
	assert.ErrorIs(t, err, payment.ErrInvalidEvent)
}

func TestApply_ExtendsNamedDeployment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d, err := f.deployments.Publish(ctx, deployment.PublishRequest{
		Fingerprint: "fp",
		Name:        "site",
		Files:       map[string][]byte{"index.html": []byte("x")},
	})
	require.NoError(t, err)

	ev := paidEvent("cs_ext", "fp")
	ev.Tier = plan.TierBusiness
	ev.Months = 6
	ev.AmountCents = 1000
	ev.DeploymentID = &d.ID

	res, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.True(t, res.Applied())

	got, err := f.deployments.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.TierBusiness, got.Tier)
	assert.True(t, got.ExpiresAt.Equal(plan.AddMonths(d.ExpiresAt, 6)))

	v, err := f.entitlements.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, plan.TierBusiness, v.Tier)
}

func TestApply_MissingDeploymentStillApplies(t *testing.T) {
	f := newFixture()

	ev := paidEvent("cs_gone", "fp")
	id := uuid.New()
	ev.DeploymentID = &id

	res, err := f.reconciler.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.Applied())
	assert.NotNil(t, f.supporterUntil(t, "fp"))
}

type failingExtender struct{ err error }

func (e failingExtender) Extend(context.Context, string, plan.Tier, int) (entitlement.View, error) {
	return entitlement.View{}, e.err
}

// recordingTx counts transactions and reports whether fn failed.
type recordingTx struct {
	calls  int
	failed int
}

func (tx *recordingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	err := fn(ctx)
	if err != nil {
		tx.failed++
	}
	return err
}

func TestApply_EffectFailureFailsTransaction(t *testing.T) {
	boom := errors.New("database unavailable")
	tx := &recordingTx{}
	r := payment.NewReconciler(payment.NewMemoryRepository(), tx, failingExtender{err: boom}, nil)

	_, err := r.Apply(context.Background(), paidEvent("cs_fail", "fp"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, 1, tx.failed)
}

// --- Claim ---

func recordUnclaimed(t *testing.T, f *fixture, ref string) {
	t.Helper()
	ev := paidEvent(ref, "")
	ev.Provider = payment.ProviderBMC
	res, err := f.reconciler.Apply(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeRecorded, res.Outcome)
}

func TestClaim_SupporterRedeemAppliesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	recordUnclaimed(t, f, "receipt-7")

	req := payment.ClaimRequest{Reference: "receipt-7", Fingerprint: "fp", Months: 3}

	first, err := f.reconciler.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, first.Outcome)

	second, err := f.reconciler.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, second.Outcome)

	other, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "receipt-7", Fingerprint: "thief", Months: 3})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, other.Outcome)

	v, err := f.entitlements.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, plan.TierSupporter, v.Tier)
	require.NotNil(t, v.SupporterUntil)
	assert.True(t, v.SupporterUntil.Equal(plan.AddMonths(now, 3)))

	thief, err := f.entitlements.Get(ctx, "thief")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, thief.Tier)

	stored, err := f.payments.GetByExternalID(ctx, payment.ProviderBMC, "receipt-7")
	require.NoError(t, err)
	require.NotNil(t, stored.ClaimedAt)
}

func TestClaim_ConcurrentClaimsApplyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	recordUnclaimed(t, f, "receipt-race")

	var applied atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "receipt-race", Fingerprint: "fp", Months: 3})
			assert.NoError(t, err)
			if res.Applied() {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
}

func TestClaim_Errors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "nope", Fingerprint: "fp"})
	assert.ErrorIs(t, err, payment.ErrNotFound)

	_, err = f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "", Fingerprint: "fp"})
	assert.ErrorIs(t, err, payment.ErrInvalidClaim)

	pending := paidEvent("receipt-pending", "")
	pending.Provider = payment.ProviderBMC
	pending.Status = payment.StatusPending
	_, err = f.reconciler.Apply(ctx, pending)
	require.NoError(t, err)

	_, err = f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "receipt-pending", Fingerprint: "fp"})
	assert.ErrorIs(t, err, payment.ErrNotPaid)
}

func TestClaim_MonthsMustMatchPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	recordUnclaimed(t, f, "receipt-x")

	_, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "receipt-x", Fingerprint: "fp", Months: 6})
	assert.ErrorIs(t, err, payment.ErrMonthsMismatch)
	assert.Nil(t, f.supporterUntil(t, "fp"))

	stored, err := f.payments.GetByExternalID(ctx, payment.ProviderBMC, "receipt-x")
	require.NoError(t, err)
	assert.Nil(t, stored.Fingerprint)

	res, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "receipt-x", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, res.Outcome)
	until := f.supporterUntil(t, "fp")
	require.NotNil(t, until)
	assert.True(t, until.Equal(plan.AddMonths(now, 3)))
}

func TestClaim_AlreadyAttachedAtPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ev := paidEvent("bmc-with-fp", "fp")
	ev.Provider = payment.ProviderBMC
	_, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)

	res, err := f.reconciler.Claim(ctx, payment.ClaimRequest{Reference: "bmc-with-fp", Fingerprint: "fp"})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeAlreadyApplied, res.Outcome)
}
