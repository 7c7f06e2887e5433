package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FXSnapshot is the exchange rate from the curve-native unit to the display
// currency for one time bucket. Written once, never recomputed.
// Corresponds to fx_snapshots table in ClickHouse.
type FXSnapshot struct {
	Pair   string          // e.g. "PROMPT/USD"
	Bucket time.Time       // bucket start (UTC)
	Rate   decimal.Decimal // display units per native unit
	AsOf   time.Time       // provider timestamp of Rate
}

// Candle is an OHLC bar of an agent's curve price for one bucket.
// Corresponds to candles table in ClickHouse.
type Candle struct {
	AgentID         string
	Bucket          time.Time
	IntervalSeconds int
	Open            decimal.Decimal // native
	High            decimal.Decimal
	Low             decimal.Decimal
	Close           decimal.Decimal
	Volume          decimal.Decimal // gross native volume
	TradeCount      int
	FXRate          decimal.Decimal // rate of the bucket's FX snapshot
	OpenDisplay     decimal.Decimal
	HighDisplay     decimal.Decimal
	LowDisplay      decimal.Decimal
	CloseDisplay    decimal.Decimal
	VolumeDisplay   decimal.Decimal
}
