package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GraduationStatus is the lifecycle status of an agent token.
type GraduationStatus string

// Graduation statuses. graduated is terminal.
const (
	StatusPreGrad   GraduationStatus = "pre_grad"
	StatusGraduated GraduationStatus = "graduated"
)

// GraduationState is the single graduation row of an agent.
// Corresponds to graduation_states table in PostgreSQL.
type GraduationState struct {
	AgentID     string
	Status      GraduationStatus
	PolicyID    string
	Snapshot    *MetricSnapshot // metrics that triggered the transition, nil while pre_grad
	TriggeredAt *time.Time      // nil while pre_grad
}

// Metric names usable in graduation rules.
type Metric string

// Supported metrics
const (
	MetricTokensSold    Metric = "tokens_sold"
	MetricReserve       Metric = "reserve"
	MetricPrice         Metric = "price"
	MetricRaisedDisplay Metric = "raised_display"
	MetricFDVDisplay    Metric = "fdv_display"
	MetricMarketCap     Metric = "market_cap_display"
	MetricSupplySoldBps Metric = "supply_sold_bps"
)

// Operator compares a metric to a threshold.
type Operator string

// Supported operators
const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
)

// Combinator joins rule results.
type Combinator string

// Supported combinators
const (
	CombinatorAny Combinator = "ANY"
	CombinatorAll Combinator = "ALL"
)

// Rule is one (metric, operator, threshold) condition.
type Rule struct {
	Metric    Metric          `json:"metric"`
	Operator  Operator        `json:"operator"`
	Threshold decimal.Decimal `json:"threshold"`
}

// GraduationPolicy is a set of rules joined by a combinator.
// Corresponds to graduation_policies table in PostgreSQL.
type GraduationPolicy struct {
	PolicyID   string     `json:"policy_id"`
	Combinator Combinator `json:"combinator"`
	Rules      []Rule     `json:"rules"`
}

// MetricSnapshot is the set of ledger-derived metrics at evaluation time.
type MetricSnapshot struct {
	TokensSold       decimal.Decimal `json:"tokens_sold"`
	Reserve          decimal.Decimal `json:"reserve"`
	Price            decimal.Decimal `json:"price"`
	RaisedDisplay    decimal.Decimal `json:"raised_display"`
	FDVDisplay       decimal.Decimal `json:"fdv_display"`
	MarketCapDisplay decimal.Decimal `json:"market_cap_display"`
	SupplySoldBps    decimal.Decimal `json:"supply_sold_bps"`
	FXRate           decimal.Decimal `json:"fx_rate"`
	TradeCount       int64           `json:"trade_count"`
	TakenAt          time.Time       `json:"taken_at"`
}

// Value returns the value of a metric, false if the metric is unknown.
func (m *MetricSnapshot) Value(metric Metric) (decimal.Decimal, bool) {
	switch metric {
	case MetricTokensSold:
		return m.TokensSold, true
	case MetricReserve:
		return m.Reserve, true
	case MetricPrice:
		return m.Price, true
	case MetricRaisedDisplay:
		return m.RaisedDisplay, true
	case MetricFDVDisplay:
		return m.FDVDisplay, true
	case MetricMarketCap:
		return m.MarketCapDisplay, true
	case MetricSupplySoldBps:
		return m.SupplySoldBps, true
	}
	return decimal.Zero, false
}

// GraduationEvent announces a terminal graduation to follow-up consumers.
type GraduationEvent struct {
	EventID     string          `json:"event_id"`
	AgentID     string          `json:"agent_id"`
	PolicyID    string          `json:"policy_id"`
	Snapshot    *MetricSnapshot `json:"snapshot"`
	TriggeredAt time.Time       `json:"triggered_at"`
}
