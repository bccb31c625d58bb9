package pricing

import (
	"errors"
	"fmt"
	"testing"
)

func uniformLines(count int, unitPrice string, eligible bool) []CartLine {
	lines := make([]CartLine, 0, count)
	for index := 0; index < count; index++ {
		lines = append(lines, CartLine{
			PhotoID:          fmt.Sprintf("photo-%d", index),
			CampaignID:       "campaign-1",
			UnitPrice:        price(unitPrice),
			DiscountEligible: eligible,
		})
	}
	return lines
}

func TestCalculateCartAveragesMixedPrices(t *testing.T) {
	lines := append(uniformLines(3, "10.00", true), uniformLines(3, "20.00", true)...)
	for index := range lines {
		lines[index].PhotoID = fmt.Sprintf("mixed-%d", index)
	}

	breakdown, err := CalculateCart(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.Quantity != 6 || breakdown.DiscountPercentage != 5 {
		t.Fatalf("unexpected tier %#v", breakdown)
	}
	if !breakdown.Subtotal.Equal(price("90")) || !breakdown.DiscountAmount.Equal(price("4.5")) || !breakdown.Total.Equal(price("85.5")) {
		t.Fatalf("unexpected breakdown %#v", breakdown)
	}
}

func TestCalculateCartSubtotalKeepsExactSum(t *testing.T) {
	lines := uniformLines(3, "10.00", true)
	lines[2].UnitPrice = price("10.01")

	breakdown, err := CalculateCart(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !breakdown.Subtotal.Equal(price("30.01")) {
		t.Fatalf("expected subtotal 30.01 from an unrounded average, got %s", breakdown.Subtotal)
	}
}

func TestAveragedAndItemizedDivergeOnRounding(t *testing.T) {
	lines := uniformLines(5, "0.10", true)

	averaged, err := CalculateCart(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	itemized, err := CalculateItemized(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// averaged: 0.50 * 5% = 0.025 -> 0.03; itemized: 5 * (0.005 -> 0.01) = 0.05
	if !averaged.DiscountAmount.Equal(price("0.03")) {
		t.Fatalf("averaged discount: want 0.03, got %s", averaged.DiscountAmount)
	}
	if !itemized.DiscountAmount.Equal(price("0.05")) {
		t.Fatalf("itemized discount: want 0.05, got %s", itemized.DiscountAmount)
	}
	if !averaged.Subtotal.Equal(itemized.Subtotal) {
		t.Fatalf("subtotals should agree: %s vs %s", averaged.Subtotal, itemized.Subtotal)
	}
}

func TestCalculateCartLeavesIneligibleLinesAtFullPrice(t *testing.T) {
	lines := append(uniformLines(5, "10", true), CartLine{PhotoID: "other", UnitPrice: price("8"), DiscountEligible: false})

	breakdown, err := CalculateCart(lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.Quantity != 6 || breakdown.DiscountPercentage != 5 {
		t.Fatalf("unexpected tier %#v", breakdown)
	}
	if !breakdown.Subtotal.Equal(price("58")) || !breakdown.DiscountAmount.Equal(price("2.5")) || !breakdown.Total.Equal(price("55.5")) {
		t.Fatalf("unexpected breakdown %#v", breakdown)
	}

	none, err := CalculateCart(uniformLines(8, "3", false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none.DiscountPercentage != 0 || !none.Total.Equal(price("24")) {
		t.Fatalf("ineligible cart must not discount: %#v", none)
	}
}

func TestCartRollbackRestoresSnapshot(t *testing.T) {
	cart := &Cart{}
	first, err := cart.Stage(AddLine(CartLine{PhotoID: "p-1", UnitPrice: price("5")}))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := first.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	change, err := cart.Stage(AddLine(CartLine{PhotoID: "p-2", UnitPrice: price("7")}))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(cart.Lines()) != 2 {
		t.Fatalf("staged change must apply speculatively")
	}
	if _, err := cart.Stage(RemoveLine("p-1")); !errors.Is(err, ErrChangePending) {
		t.Fatalf("expected ErrChangePending, got %v", err)
	}

	if err := change.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	lines := cart.Lines()
	if len(lines) != 1 || lines[0].PhotoID != "p-1" {
		t.Fatalf("rollback must restore the committed snapshot, got %#v", lines)
	}
	if err := change.Commit(); !errors.Is(err, ErrChangeSettled) {
		t.Fatalf("expected ErrChangeSettled, got %v", err)
	}
}

func TestCartMutationErrorsLeaveStateUntouched(t *testing.T) {
	cart := &Cart{}
	change, _ := cart.Stage(AddLine(CartLine{PhotoID: "p-1", UnitPrice: price("5")}))
	_ = change.Commit()

	if _, err := cart.Stage(AddLine(CartLine{PhotoID: "p-1"})); !errors.Is(err, ErrDuplicateLine) {
		t.Fatalf("expected ErrDuplicateLine, got %v", err)
	}
	if _, err := cart.Stage(RemoveLine("p-9")); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
	clearing, err := cart.Stage(ClearLines())
	if err != nil {
		t.Fatalf("stage clear: %v", err)
	}
	if len(cart.Lines()) != 0 {
		t.Fatalf("clear should empty the cart")
	}
	_ = clearing.Commit()
	quote, err := cart.Quote()
	if err != nil || !quote.Total.IsZero() {
		t.Fatalf("empty cart should quote zero, got %#v (%v)", quote, err)
	}
}
