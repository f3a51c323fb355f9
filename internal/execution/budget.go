package execution

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned when a commit exceeds the remaining margin
var ErrBudgetExhausted = errors.New("margin budget exhausted")

const budgetEpsilon = 1e-9

// Budget is the per-cycle margin allowance. It starts at the account's
// available balance; risk-increasing fills commit margin and reduce-only
// fills release it. Committed plus remaining must not exceed the start; a
// fill that took more margin than remained breaks that and is kept as overrun.
type Budget struct {
	mu        sync.Mutex
	start     float64
	remaining float64
	committed float64
	overrun   float64
}

// NewBudget creates a budget from the available balance
func NewBudget(available float64) *Budget {
	if available < 0 {
		available = 0
	}
	return &Budget{start: available, remaining: available}
}

// Start is the available balance the cycle began with
func (b *Budget) Start() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start
}

// Remaining is the margin still available this cycle
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Committed is the net margin committed this cycle
func (b *Budget) Committed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Fits reports whether margin can be committed
func (b *Budget) Fits(margin float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return margin <= b.remaining+budgetEpsilon
}

// Commit moves margin from remaining to committed
func (b *Budget) Commit(margin float64) error {
	if margin <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if margin > b.remaining+budgetEpsilon {
		return fmt.Errorf("%w: need %.4f, have %.4f", ErrBudgetExhausted, margin, b.remaining)
	}
	b.remaining -= margin
	if b.remaining < 0 {
		b.remaining = 0
	}
	b.committed += margin
	return nil
}

// ForceCommit books margin a fill has already taken on the exchange. What
// exceeds the remainder empties the budget and is returned as overrun.
func (b *Budget) ForceCommit(margin float64) (overrun float64) {
	if margin <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed += margin
	b.remaining -= margin
	if b.remaining < -budgetEpsilon {
		overrun = -b.remaining
		b.overrun += overrun
	}
	if b.remaining < 0 {
		b.remaining = 0
	}
	return overrun
}

// Overrun is the margin committed beyond the start this cycle
func (b *Budget) Overrun() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overrun
}

// Release returns margin freed by a reduce-only fill
func (b *Budget) Release(margin float64) {
	if margin <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining += margin
	b.committed -= margin
}

// InvariantHolds reports committed + remaining <= start
func (b *Budget) InvariantHolds() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed+b.remaining <= b.start+1e-6
}
