package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Tier charges amount*Rate + Flat for amounts in [Lower, Upper). The final
// tier of a schedule is unbounded and matches by amount >= Lower.
type Tier struct {
	Lower     decimal.Decimal `yaml:"lower"`
	Upper     decimal.Decimal `yaml:"upper"`
	Unbounded bool            `yaml:"unbounded"`
	Rate      decimal.Decimal `yaml:"rate"`
	Flat      decimal.Decimal `yaml:"flat"`
}

func (t Tier) contains(amount decimal.Decimal) bool {
	if amount.Cmp(t.Lower) < 0 {
		return false
	}
	return t.Unbounded || amount.Cmp(t.Upper) < 0
}

// Schedule is an ordered, non-overlapping tier list, fixed at startup.
type Schedule struct {
	tiers []Tier
}

// DefaultTiers is the production fee schedule: 1% under 100, 0.5% under
// 1000, flat 5 above. Config falls back to it when no overlay supplies one.
func DefaultTiers() []Tier {
	return []Tier{
		{Lower: decimal.Zero, Upper: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.01")},
		{Lower: decimal.NewFromInt(100), Upper: decimal.NewFromInt(1000), Rate: decimal.RequireFromString("0.005")},
		{Lower: decimal.NewFromInt(1000), Unbounded: true, Flat: decimal.NewFromInt(5)},
	}
}

// Default is the schedule built from DefaultTiers.
func Default() Schedule {
	return Schedule{tiers: DefaultTiers()}
}

// New validates tier ordering: lower bounds strictly ascending, each bounded
// tier's upper above its lower, only the last tier unbounded.
func New(tiers []Tier) (Schedule, error) {
	if len(tiers) == 0 {
		return Schedule{}, fmt.Errorf("fee schedule needs at least one tier")
	}
	for i, t := range tiers {
		if t.Lower.Sign() < 0 {
			return Schedule{}, fmt.Errorf("tier %d has negative lower bound", i)
		}
		if t.Unbounded && i != len(tiers)-1 {
			return Schedule{}, fmt.Errorf("tier %d is unbounded but not last", i)
		}
		if !t.Unbounded && t.Upper.Cmp(t.Lower) <= 0 {
			return Schedule{}, fmt.Errorf("tier %d has upper bound <= lower bound", i)
		}
		if i > 0 && t.Lower.Cmp(tiers[i-1].Lower) <= 0 {
			return Schedule{}, fmt.Errorf("tier %d lower bound is not ascending", i)
		}
	}
	return Schedule{tiers: tiers}, nil
}

// Compute returns the fee for a transfer amount. Bounds are lower-inclusive
// and upper-exclusive; a negative amount is a caller mistake. A schedule with
// full coverage always matches; no match falls through to a zero fee.
func (s Schedule) Compute(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	for _, t := range s.tiers {
		if t.contains(amount) {
			return amount.Mul(t.Rate).Add(t.Flat), nil
		}
	}
	return decimal.Zero, nil
}
