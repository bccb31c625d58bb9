package pricing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateLine indicates the photo is already in the cart.
	ErrDuplicateLine = errors.New("pricing: photo already in cart")
	// ErrLineNotFound indicates the photo is not in the cart.
	ErrLineNotFound = errors.New("pricing: photo not in cart")
	// ErrChangePending indicates a staged change has not been committed or rolled back.
	ErrChangePending = errors.New("pricing: cart change already pending")
	// ErrChangeSettled indicates Commit or Rollback was already called.
	ErrChangeSettled = errors.New("pricing: cart change already settled")
)

// CartLine is one photo in a shopping session.
type CartLine struct {
	PhotoID          string
	CampaignID       string
	UnitPrice        decimal.Decimal
	DiscountEligible bool
}

// CalculateCart prices eligible lines against their average unit price, the way checkout does.
// Ineligible lines are added at full price.
func CalculateCart(lines []CartLine) (Breakdown, error) {
	eligible, eligibleSum, fullPrice, err := splitLines(lines)
	if err != nil {
		return Breakdown{}, err
	}
	breakdown := Breakdown{Quantity: len(lines), Subtotal: fullPrice, Total: fullPrice}
	if eligible == 0 {
		return breakdown, nil
	}

	// Unrounded, so the subtotal rounds back to the exact sum of prices.
	average := eligibleSum.Div(decimal.NewFromInt(int64(eligible)))
	discounted, err := Calculate(eligible, average, true)
	if err != nil {
		return Breakdown{}, err
	}
	breakdown.DiscountPercentage = discounted.DiscountPercentage
	breakdown.DiscountAmount = discounted.DiscountAmount
	breakdown.Subtotal = breakdown.Subtotal.Add(discounted.Subtotal)
	breakdown.Total = breakdown.Total.Add(discounted.Total)
	return breakdown, nil
}

// CalculateItemized discounts each eligible line separately at the tier of the eligible count,
// rounding per line. Mixed-price carts may differ from CalculateCart by a cent or more.
func CalculateItemized(lines []CartLine) (Breakdown, error) {
	eligible, _, fullPrice, err := splitLines(lines)
	if err != nil {
		return Breakdown{}, err
	}
	percentage := Percentage(eligible, true)
	breakdown := Breakdown{
		Quantity:           len(lines),
		DiscountPercentage: percentage,
		Subtotal:           fullPrice,
		Total:              fullPrice,
	}
	for _, line := range lines {
		if !line.DiscountEligible {
			continue
		}
		priced := applyDiscount(1, roundCurrency(line.UnitPrice), percentage)
		breakdown.Subtotal = breakdown.Subtotal.Add(priced.Subtotal)
		breakdown.DiscountAmount = breakdown.DiscountAmount.Add(priced.DiscountAmount)
		breakdown.Total = breakdown.Total.Add(priced.Total)
	}
	if eligible == 0 {
		breakdown.DiscountPercentage = 0
	}
	return breakdown, nil
}

func splitLines(lines []CartLine) (int, decimal.Decimal, decimal.Decimal, error) {
	eligible := 0
	eligibleSum := decimal.Zero
	fullPrice := decimal.Zero
	for _, line := range lines {
		if line.UnitPrice.IsNegative() {
			return 0, decimal.Zero, decimal.Zero, fmt.Errorf("%w: photo %s has negative price", ErrInvalidInput, line.PhotoID)
		}
		if line.DiscountEligible {
			eligible++
			eligibleSum = eligibleSum.Add(line.UnitPrice)
			continue
		}
		fullPrice = fullPrice.Add(roundCurrency(line.UnitPrice))
	}
	return eligible, eligibleSum, fullPrice, nil
}

// Mutation changes a cart's lines in place.
type Mutation func(lines []CartLine) ([]CartLine, error)

// AddLine appends a photo that is not yet in the cart.
func AddLine(line CartLine) Mutation {
	return func(lines []CartLine) ([]CartLine, error) {
		for _, existing := range lines {
			if existing.PhotoID == line.PhotoID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateLine, line.PhotoID)
			}
		}
		return append(lines, line), nil
	}
}

// RemoveLine drops a photo from the cart.
func RemoveLine(photoID string) Mutation {
	return func(lines []CartLine) ([]CartLine, error) {
		for index, existing := range lines {
			if existing.PhotoID == photoID {
				return append(lines[:index], lines[index+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrLineNotFound, photoID)
	}
}

// ClearLines empties the cart.
func ClearLines() Mutation {
	return func([]CartLine) ([]CartLine, error) {
		return nil, nil
	}
}

// Cart holds shopping-session lines. Changes are staged speculatively and then committed
// once the server acknowledges them, or rolled back to the exact prior snapshot.
type Cart struct {
	mu      sync.Mutex
	lines   []CartLine
	pending *PendingChange
}

// PendingChange is a staged cart mutation awaiting acknowledgement.
type PendingChange struct {
	cart     *Cart
	snapshot []CartLine
	settled  bool
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLines(c.lines)
}

// Quote prices the current lines.
func (c *Cart) Quote() (Breakdown, error) {
	return CalculateCart(c.Lines())
}

// Stage applies the mutation immediately and returns the handle that settles it.
func (c *Cart) Stage(mutation Mutation) (*PendingChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, ErrChangePending
	}
	snapshot := cloneLines(c.lines)
	next, err := mutation(cloneLines(c.lines))
	if err != nil {
		return nil, err
	}
	c.lines = next
	change := &PendingChange{cart: c, snapshot: snapshot}
	c.pending = change
	return change, nil
}

// Commit keeps the staged state.
func (p *PendingChange) Commit() error {
	return p.settle(false)
}

// Rollback restores the lines captured when the change was staged.
func (p *PendingChange) Rollback() error {
	return p.settle(true)
}

func (p *PendingChange) settle(restore bool) error {
	cart := p.cart
	cart.mu.Lock()
	defer cart.mu.Unlock()
	if p.settled {
		return ErrChangeSettled
	}
	p.settled = true
	cart.pending = nil
	if restore {
		cart.lines = p.snapshot
	}
	return nil
}

func cloneLines(lines []CartLine) []CartLine {
	if lines == nil {
		return nil
	}
	copied := make([]CartLine, len(lines))
	copy(copied, lines)
	return copied
}
