package payouts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func amount(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func revenue(value string, status PurchaseStatus, createdAt time.Time) RevenueShare {
	return RevenueShare{PhotographerAmount: amount(value), PurchaseStatus: status, PurchaseCreatedAt: createdAt}
}

func TestSecurityWindowBoundary(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	records := []RevenueShare{
		revenue("10", PurchaseCompleted, now.Add(-(11*time.Hour + 59*time.Minute))),
		revenue("25", PurchaseCompleted, now.Add(-(12*time.Hour + time.Minute))),
	}

	balance := ComputeBalance(records, nil, now)
	if !balance.PendingAmount.Equal(amount("10")) {
		t.Fatalf("purchase at 11h59m must be pending, got pending %s", balance.PendingAmount)
	}
	if !balance.AvailableAmount.Equal(amount("25")) {
		t.Fatalf("purchase at 12h01m must be available, got available %s", balance.AvailableAmount)
	}
	if !balance.TotalEarned.Equal(amount("35")) {
		t.Fatalf("unexpected total earned %s", balance.TotalEarned)
	}
	if !Cleared(now.Add(-SecurityPeriod), now) {
		t.Fatalf("exactly twelve hours must clear the window")
	}
}

func TestComputeBalanceNetsPayouts(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	records := []RevenueShare{
		revenue("100", PurchaseCompleted, old),
		revenue("50", PurchaseCompleted, old),
		revenue("70", PurchaseRefunded, old),
		revenue("30", PurchasePending, old),
	}
	requests := []PayoutRequest{
		{Amount: amount("20"), Status: PayoutPending},
		{Amount: amount("15"), Status: PayoutApproved},
		{Amount: amount("40"), Status: PayoutCompleted},
	}

	balance := ComputeBalance(records, requests, now)
	if !balance.BlockedAmount.Equal(amount("35")) {
		t.Fatalf("unexpected blocked %s", balance.BlockedAmount)
	}
	if !balance.WithdrawnAmount.Equal(amount("40")) {
		t.Fatalf("unexpected withdrawn %s", balance.WithdrawnAmount)
	}
	if !balance.AvailableAmount.Equal(amount("75")) {
		t.Fatalf("unexpected available %s", balance.AvailableAmount)
	}
	if !balance.TotalEarned.Equal(amount("150")) {
		t.Fatalf("non-completed purchases must not count, got %s", balance.TotalEarned)
	}
}

func TestComputeBalanceNeverGoesNegative(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	records := []RevenueShare{
		revenue("10", PurchaseCompleted, now.Add(-24*time.Hour)),
		revenue("90", PurchaseCompleted, now.Add(-time.Hour)),
	}
	requests := []PayoutRequest{{Amount: amount("60"), Status: PayoutCompleted}}

	balance := ComputeBalance(records, requests, now)
	if !balance.AvailableAmount.IsZero() {
		t.Fatalf("available must clamp at zero, got %s", balance.AvailableAmount)
	}
	for name, value := range map[string]decimal.Decimal{
		"total":     balance.TotalEarned,
		"available": balance.AvailableAmount,
		"pending":   balance.PendingAmount,
		"blocked":   balance.BlockedAmount,
		"withdrawn": balance.WithdrawnAmount,
	} {
		if value.IsNegative() {
			t.Fatalf("%s must be non-negative, got %s", name, value)
		}
	}
}
