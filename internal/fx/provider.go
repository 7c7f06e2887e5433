package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/clock"
)

// Provider quotes the native-to-display exchange rate. Implementations wrap
// external price feeds.
type Provider interface {
	Rate(ctx context.Context) (rate decimal.Decimal, asOf time.Time, err error)
}

// StaticProvider always quotes the same rate, stamped with the current time.
type StaticProvider struct {
	rate  decimal.Decimal
	clock clock.Clock
}

// NewStaticProvider returns a provider for a fixed positive rate.
func NewStaticProvider(rate decimal.Decimal, c clock.Clock) (*StaticProvider, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("fx: static rate must be positive, got %s", rate)
	}
	return &StaticProvider{rate: rate, clock: clock.OrSystem(c)}, nil
}

func (p *StaticProvider) Rate(context.Context) (decimal.Decimal, time.Time, error) {
	return p.rate, p.clock.Now(), nil
}

// FuncProvider adapts a function to Provider.
type FuncProvider func(ctx context.Context) (decimal.Decimal, time.Time, error)

func (f FuncProvider) Rate(ctx context.Context) (decimal.Decimal, time.Time, error) {
	return f(ctx)
}
