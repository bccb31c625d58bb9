package payouts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type payoutFixture struct {
	service *Service
	db      *gorm.DB
	clock   *testClock
	logs    *observer.ObservedLogs
}

func newPayoutFixture(t *testing.T) payoutFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&profiles.Profile{}, &RevenueShare{}, &PayoutRequest{}, &PixChangeRequest{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	seed := []profiles.Profile{
		{ID: "ph-1", Subject: "ph-1", Role: profiles.RolePhotographer, PixKey: "12345678909"},
		{ID: "ph-2", Subject: "ph-2", Role: profiles.RolePhotographer},
		{ID: "fan-1", Subject: "fan-1", Role: profiles.RoleAttendee},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed profiles: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 10, 9, 15, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zapcore.InfoLevel)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		Location:   time.UTC,
		IDProvider: &ids.Sequence{Prefix: "id"},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return payoutFixture{service: service, db: db, clock: clock, logs: logs}
}

func (f payoutFixture) seedRevenue(t *testing.T, id, photographerID, value string, age time.Duration) {
	t.Helper()
	record := RevenueShare{
		ID:                 id,
		PurchaseID:         "purchase-" + id,
		PhotographerID:     photographerID,
		PhotographerAmount: amount(value),
		PurchaseStatus:     PurchaseCompleted,
		PurchaseCreatedAt:  f.clock.now.Add(-age),
	}
	if err := f.db.Create(&record).Error; err != nil {
		t.Fatalf("seed revenue: %v", err)
	}
}

func TestBalanceReadsStoredRecords(t *testing.T) {
	fixture := newPayoutFixture(t)
	fixture.seedRevenue(t, "r-1", "ph-1", "80.00", 24*time.Hour)
	fixture.seedRevenue(t, "r-2", "ph-1", "20.00", time.Hour)
	fixture.seedRevenue(t, "r-3", "ph-2", "999.00", 24*time.Hour)

	balance, err := fixture.service.Balance(context.Background(), "ph-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !balance.AvailableAmount.Equal(amount("80")) || !balance.PendingAmount.Equal(amount("20")) || !balance.TotalEarned.Equal(amount("100")) {
		t.Fatalf("unexpected balance %#v", balance)
	}
}

func TestRequestPayoutLocksAvailableFunds(t *testing.T) {
	fixture := newPayoutFixture(t)
	ctx := context.Background()
	fixture.seedRevenue(t, "r-1", "ph-1", "80.00", 24*time.Hour)
	fixture.seedRevenue(t, "r-2", "ph-1", "20.00", time.Hour)

	if _, err := fixture.service.RequestPayout(ctx, "ph-1", amount("90")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("funds still in the security window must not be withdrawable, got %v", err)
	}

	request, err := fixture.service.RequestPayout(ctx, "ph-1", amount("50"))
	if err != nil {
		t.Fatalf("request payout failed: %v", err)
	}
	if request.Status != PayoutPending || request.PixKey != "12345678909" {
		t.Fatalf("unexpected payout %#v", request)
	}

	if _, err := fixture.service.RequestPayout(ctx, "ph-1", amount("30.01")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("blocked funds must not be requested twice, got %v", err)
	}
	balance, err := fixture.service.Balance(ctx, "ph-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !balance.BlockedAmount.Equal(amount("50")) || !balance.AvailableAmount.Equal(amount("30")) {
		t.Fatalf("unexpected balance %#v", balance)
	}

	found := false
	for _, entry := range fixture.logs.All() {
		if entry.Message == "payout requested" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected payout request to be logged")
	}
}

func TestRequestPayoutValidatesCaller(t *testing.T) {
	fixture := newPayoutFixture(t)
	ctx := context.Background()
	fixture.seedRevenue(t, "r-1", "ph-2", "80.00", 24*time.Hour)

	tests := []struct {
		name           string
		photographerID string
		amount         string
		want           error
	}{
		{name: "zero", photographerID: "ph-1", amount: "0", want: ErrInvalidAmount},
		{name: "fractional-cents", photographerID: "ph-1", amount: "1.005", want: ErrInvalidAmount},
		{name: "no-pix-key", photographerID: "ph-2", amount: "10", want: ErrMissingPixKey},
		{name: "attendee", photographerID: "fan-1", amount: "10", want: ErrNotPhotographer},
		{name: "unknown", photographerID: "ghost", amount: "10", want: profiles.ErrProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fixture.service.RequestPayout(ctx, tt.photographerID, amount(tt.amount)); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestTransitionPayoutFollowsLifecycle(t *testing.T) {
	fixture := newPayoutFixture(t)
	ctx := context.Background()
	fixture.seedRevenue(t, "r-1", "ph-1", "80.00", 24*time.Hour)

	request, err := fixture.service.RequestPayout(ctx, "ph-1", amount("40"))
	if err != nil {
		t.Fatalf("request payout failed: %v", err)
	}
	if _, err := fixture.service.TransitionPayout(ctx, request.ID, PayoutCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending must not jump to completed, got %v", err)
	}
	if _, err := fixture.service.TransitionPayout(ctx, request.ID, PayoutApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	completed, err := fixture.service.TransitionPayout(ctx, request.ID, PayoutCompleted)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != PayoutCompleted {
		t.Fatalf("unexpected status %s", completed.Status)
	}
	if _, err := fixture.service.TransitionPayout(ctx, request.ID, PayoutApproved); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}
	if _, err := fixture.service.TransitionPayout(ctx, "missing", PayoutApproved); !errors.Is(err, ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound, got %v", err)
	}

	balance, err := fixture.service.Balance(ctx, "ph-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !balance.WithdrawnAmount.Equal(amount("40")) || !balance.BlockedAmount.IsZero() || !balance.AvailableAmount.Equal(amount("40")) {
		t.Fatalf("unexpected balance %#v", balance)
	}

	listed, err := fixture.service.ListPayouts(ctx, "ph-1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one payout listed, got %d (%v)", len(listed), err)
	}
}

func TestFirstPixKeyAppliesImmediately(t *testing.T) {
	fixture := newPayoutFixture(t)
	status, err := fixture.service.RequestPixChange(context.Background(), "ph-2", "runner@example.com")
	if err != nil {
		t.Fatalf("request pix change failed: %v", err)
	}
	if status.ActiveKey != "runner@example.com" || status.PendingKey != "" {
		t.Fatalf("first key should be active immediately, got %#v", status)
	}
}

func TestSupersededPixChangeIsNeverApplied(t *testing.T) {
	fixture := newPayoutFixture(t)
	ctx := context.Background()

	// Friday: first change request.
	if _, err := fixture.service.RequestPixChange(ctx, "ph-1", "first@example.com"); err != nil {
		t.Fatalf("first change failed: %v", err)
	}

	// Tuesday: a second change replaces the first before it applies.
	fixture.clock.now = time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC)
	status, err := fixture.service.RequestPixChange(ctx, "ph-1", "second@example.com")
	if err != nil {
		t.Fatalf("second change failed: %v", err)
	}
	if status.PendingKey != "second@example.com" || status.DaysUntilApplied != 3 {
		t.Fatalf("unexpected pending status %#v", status)
	}

	// Wednesday: the first request's window would have elapsed.
	fixture.clock.now = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	applied, err := fixture.service.ApplyDuePixChanges(ctx)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied != 0 {
		t.Fatalf("superseded change must not apply, applied %d", applied)
	}
	status, err = fixture.service.PixChangeStatus(ctx, "ph-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.ActiveKey != "12345678909" {
		t.Fatalf("active key must be unchanged, got %q", status.ActiveKey)
	}

	// Friday: three business days after Tuesday.
	fixture.clock.now = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	applied, err = fixture.service.ApplyDuePixChanges(ctx)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected the latest change to apply, applied %d", applied)
	}
	status, err = fixture.service.PixChangeStatus(ctx, "ph-1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.ActiveKey != "second@example.com" || status.PendingKey != "" {
		t.Fatalf("unexpected status after apply %#v", status)
	}

	applied, err = fixture.service.ApplyDuePixChanges(ctx)
	if err != nil || applied != 0 {
		t.Fatalf("a second sweep must be a no-op, applied %d (%v)", applied, err)
	}
}

func TestRunPixApplierSweepsUntilCancelled(t *testing.T) {
	sweeper := &countingApplier{calls: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPixApplier(ctx, sweeper, 5*time.Millisecond, nil)
		close(done)
	}()

	for index := 0; index < 2; index++ {
		select {
		case <-sweeper.calls:
		case <-time.After(time.Second):
			t.Fatalf("expected sweep %d", index+1)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("applier did not stop after cancellation")
	}
}

type countingApplier struct {
	calls chan struct{}
}

func (c *countingApplier) ApplyDuePixChanges(context.Context) (int, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return 0, nil
}
