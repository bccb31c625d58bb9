package payouts

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecurityPeriod is how long completed revenue is held for fraud review before it can be withdrawn.
const SecurityPeriod = 12 * time.Hour

// Balance partitions a photographer's revenue. Every field is non-negative.
type Balance struct {
	TotalEarned     decimal.Decimal
	AvailableAmount decimal.Decimal
	PendingAmount   decimal.Decimal
	BlockedAmount   decimal.Decimal
	WithdrawnAmount decimal.Decimal
}

// Cleared reports whether a purchase made at createdAt has left the security window at now.
func Cleared(createdAt, now time.Time) bool {
	return now.Sub(createdAt) >= SecurityPeriod
}

// ComputeBalance nets cleared revenue against payouts already requested or paid.
func ComputeBalance(records []RevenueShare, requests []PayoutRequest, now time.Time) Balance {
	balance := Balance{
		TotalEarned:     decimal.Zero,
		AvailableAmount: decimal.Zero,
		PendingAmount:   decimal.Zero,
		BlockedAmount:   decimal.Zero,
		WithdrawnAmount: decimal.Zero,
	}

	availableBeforePayouts := decimal.Zero
	for _, record := range records {
		if record.PurchaseStatus != PurchaseCompleted || record.PhotographerAmount.IsNegative() {
			continue
		}
		balance.TotalEarned = balance.TotalEarned.Add(record.PhotographerAmount)
		if Cleared(record.PurchaseCreatedAt, now) {
			availableBeforePayouts = availableBeforePayouts.Add(record.PhotographerAmount)
		} else {
			balance.PendingAmount = balance.PendingAmount.Add(record.PhotographerAmount)
		}
	}

	for _, request := range requests {
		switch request.Status {
		case PayoutPending, PayoutApproved:
			balance.BlockedAmount = balance.BlockedAmount.Add(request.Amount)
		case PayoutCompleted:
			balance.WithdrawnAmount = balance.WithdrawnAmount.Add(request.Amount)
		}
	}

	available := availableBeforePayouts.Sub(balance.BlockedAmount).Sub(balance.WithdrawnAmount)
	if available.IsPositive() {
		balance.AvailableAmount = available
	}
	return balance
}
