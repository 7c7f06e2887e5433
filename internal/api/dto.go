package api

import (
	"time"

	"github.com/shopspring/decimal"

	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/graduation"
	"agent-launchpad/internal/settlement"
	"agent-launchpad/internal/vesting"
)

type curveConfigDTO struct {
	StartPrice     decimal.Decimal `json:"start_price"`
	EndPrice       decimal.Decimal `json:"end_price"`
	SupplyCap      decimal.Decimal `json:"supply_cap"`
	TotalSupply    decimal.Decimal `json:"total_supply"`
	FeeBps         int64           `json:"fee_bps"`
	CreatorFeeBps  int64           `json:"creator_fee_bps"`
	PlatformFeeBps int64           `json:"platform_fee_bps"`
}

func (d curveConfigDTO) toDomain() domain.CurveConfig {
	return domain.CurveConfig{
		StartPrice:     d.StartPrice,
		EndPrice:       d.EndPrice,
		SupplyCap:      d.SupplyCap,
		TotalSupply:    d.TotalSupply,
		FeeBps:         d.FeeBps,
		CreatorFeeBps:  d.CreatorFeeBps,
		PlatformFeeBps: d.PlatformFeeBps,
	}
}

func curveConfigFrom(c domain.CurveConfig) curveConfigDTO {
	return curveConfigDTO{
		StartPrice:     c.StartPrice,
		EndPrice:       c.EndPrice,
		SupplyCap:      c.SupplyCap,
		TotalSupply:    c.TotalSupply,
		FeeBps:         c.FeeBps,
		CreatorFeeBps:  c.CreatorFeeBps,
		PlatformFeeBps: c.PlatformFeeBps,
	}
}

type teamAllocationDTO struct {
	Beneficiary string               `json:"beneficiary"`
	Amount      decimal.Decimal      `json:"amount"`
	Steps       []domain.VestingStep `json:"steps"`
}

type createAgentRequest struct {
	AgentID   string             `json:"agent_id"`
	CreatorID string             `json:"creator_id"`
	Symbol    string             `json:"symbol"`
	PolicyID  string             `json:"policy_id"`
	Curve     curveConfigDTO     `json:"curve"`
	Team      *teamAllocationDTO `json:"team,omitempty"`
}

type agentDTO struct {
	AgentID   string         `json:"agent_id"`
	CreatorID string         `json:"creator_id"`
	Symbol    string         `json:"symbol"`
	PolicyID  string         `json:"policy_id"`
	Curve     curveConfigDTO `json:"curve"`
	CreatedAt time.Time      `json:"created_at"`
}

func agentFrom(a *domain.Agent) agentDTO {
	return agentDTO{
		AgentID:   a.AgentID,
		CreatorID: a.CreatorID,
		Symbol:    a.Symbol,
		PolicyID:  a.PolicyID,
		Curve:     curveConfigFrom(a.Curve),
		CreatedAt: a.CreatedAt,
	}
}

type curveStateDTO struct {
	TokensSold     decimal.Decimal `json:"tokens_sold"`
	ReserveBalance decimal.Decimal `json:"reserve_balance"`
	RaisedDisplay  decimal.Decimal `json:"raised_display"`
	Raised         string          `json:"raised"` // formatted in the display unit
	Price          decimal.Decimal `json:"price"`
	TradeCount     int64           `json:"trade_count"`
	Halted         bool            `json:"halted"`
	HaltReason     string          `json:"halt_reason,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type agentDetailDTO struct {
	Agent      agentDTO            `json:"agent"`
	State      curveStateDTO       `json:"state"`
	Graduation graduationStatusDTO `json:"graduation"`
}

type holderDTO struct {
	AgentID       string          `json:"agent_id"`
	HolderID      string          `json:"holder_id"`
	TokenBalance  decimal.Decimal `json:"token_balance"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	AvgBuyPrice   decimal.Decimal `json:"avg_buy_price"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func holderFrom(b *domain.HolderBalance) holderDTO {
	return holderDTO{
		AgentID:       b.AgentID,
		HolderID:      b.HolderID,
		TokenBalance:  b.TokenBalance,
		TotalInvested: b.TotalInvested,
		RealizedPnL:   b.RealizedPnL,
		AvgBuyPrice:   b.AvgBuyPrice,
		UpdatedAt:     b.UpdatedAt,
	}
}

type feeDTO struct {
	Gross       decimal.Decimal `json:"gross"`
	Fee         decimal.Decimal `json:"fee"`
	CreatorFee  decimal.Decimal `json:"creator_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Net         decimal.Decimal `json:"net"`
}

type quoteDTO struct {
	Direction       domain.Direction `json:"direction"`
	AmountIn        decimal.Decimal  `json:"amount_in"`
	AmountOut       decimal.Decimal  `json:"amount_out"`
	TokenAmount     decimal.Decimal  `json:"token_amount"`
	Fee             feeDTO           `json:"fee"`
	Unspent         decimal.Decimal  `json:"unspent"`
	PriceBefore     decimal.Decimal  `json:"price_before"`
	PriceAfter      decimal.Decimal  `json:"price_after"`
	TokensSoldAfter decimal.Decimal  `json:"tokens_sold_after"`
	ReserveAfter    decimal.Decimal  `json:"reserve_after"`
	ExceedsCap      bool             `json:"exceeds_cap"`
	RequiredIn      *decimal.Decimal `json:"required_in,omitempty"`
}

func quoteFrom(q *curve.Quote) quoteDTO {
	d := quoteDTO{
		Direction:   q.Direction,
		AmountIn:    q.AmountIn,
		AmountOut:   q.AmountOut,
		TokenAmount: q.TokenAmount,
		Fee: feeDTO{
			Gross:       q.Fee.Gross,
			Fee:         q.Fee.Fee,
			CreatorFee:  q.Fee.CreatorFee,
			PlatformFee: q.Fee.PlatformFee,
			Net:         q.Fee.Net,
		},
		Unspent:         q.Unspent,
		PriceBefore:     q.PriceBefore,
		PriceAfter:      q.PriceAfter,
		TokensSoldAfter: q.TokensSoldAfter,
		ReserveAfter:    q.ReserveAfter,
		ExceedsCap:      q.ExceedsCap,
	}
	if q.ExceedsCap {
		req := q.RequiredIn
		d.RequiredIn = &req
	}
	return d
}

type tradeRequestDTO struct {
	HolderID       string           `json:"holder_id"`
	Direction      domain.Direction `json:"direction"`
	Amount         decimal.Decimal  `json:"amount"`
	IdempotencyKey string           `json:"idempotency_key"`
	ExpectedOut    decimal.Decimal  `json:"expected_out"`
	MaxSlippageBps int64            `json:"max_slippage_bps"`
}

type tradeDTO struct {
	TradeID             string           `json:"trade_id"`
	AgentID             string           `json:"agent_id"`
	HolderID            string           `json:"holder_id"`
	Sequence            int64            `json:"sequence"`
	Direction           domain.Direction `json:"direction"`
	AmountIn            decimal.Decimal  `json:"amount_in"`
	AmountOut           decimal.Decimal  `json:"amount_out"`
	GrossAmount         decimal.Decimal  `json:"gross_amount"`
	NetAmount           decimal.Decimal  `json:"net_amount"`
	CreatorFee          decimal.Decimal  `json:"creator_fee"`
	PlatformFee         decimal.Decimal  `json:"platform_fee"`
	Unspent             decimal.Decimal  `json:"unspent"`
	TokenAmount         decimal.Decimal  `json:"token_amount"`
	RealizedPnL         decimal.Decimal  `json:"realized_pnl"`
	PriceAfter          decimal.Decimal  `json:"price_after"`
	TokensSoldAfter     decimal.Decimal  `json:"tokens_sold_after"`
	ReserveAfter        decimal.Decimal  `json:"reserve_after"`
	FXRate              decimal.Decimal  `json:"fx_rate"`
	DisplayValue        decimal.Decimal  `json:"display_value"`
	CreatedAt           time.Time        `json:"created_at"`
	AlreadySettled      bool             `json:"already_settled"`
	GraduationTriggered bool             `json:"graduation_triggered"`
}

func tradeFrom(r *settlement.TradeResult) tradeDTO {
	return tradeDTO{
		TradeID:             r.TradeID,
		AgentID:             r.AgentID,
		HolderID:            r.HolderID,
		Sequence:            r.Sequence,
		Direction:           r.Direction,
		AmountIn:            r.AmountIn,
		AmountOut:           r.AmountOut,
		GrossAmount:         r.GrossAmount,
		NetAmount:           r.NetAmount,
		CreatorFee:          r.CreatorFee,
		PlatformFee:         r.PlatformFee,
		Unspent:             r.Unspent,
		TokenAmount:         r.TokenAmount,
		RealizedPnL:         r.RealizedPnL,
		PriceAfter:          r.PriceAfter,
		TokensSoldAfter:     r.TokensSoldAfter,
		ReserveAfter:        r.ReserveAfter,
		FXRate:              r.FXRate,
		DisplayValue:        r.DisplayValue,
		CreatedAt:           r.CreatedAt,
		AlreadySettled:      r.AlreadySettled,
		GraduationTriggered: r.GraduationTriggered,
	}
}

type tradeRecordDTO struct {
	TradeID         string           `json:"trade_id"`
	Sequence        int64            `json:"sequence"`
	HolderID        string           `json:"holder_id"`
	Direction       domain.Direction `json:"direction"`
	GrossAmount     decimal.Decimal  `json:"gross_amount"`
	NetAmount       decimal.Decimal  `json:"net_amount"`
	TokenAmount     decimal.Decimal  `json:"token_amount"`
	PriceAfter      decimal.Decimal  `json:"price_after"`
	TokensSoldAfter decimal.Decimal  `json:"tokens_sold_after"`
	ReserveAfter    decimal.Decimal  `json:"reserve_after"`
	FXRate          decimal.Decimal  `json:"fx_rate"`
	DisplayValue    decimal.Decimal  `json:"display_value"`
	CreatedAt       time.Time        `json:"created_at"`
}

func tradeRecordFrom(t *domain.TradeRecord) tradeRecordDTO {
	return tradeRecordDTO{
		TradeID:         t.TradeID,
		Sequence:        t.Sequence,
		HolderID:        t.HolderID,
		Direction:       t.Direction,
		GrossAmount:     t.GrossAmount,
		NetAmount:       t.NetAmount,
		TokenAmount:     t.TokenAmount,
		PriceAfter:      t.PriceAfter,
		TokensSoldAfter: t.TokensSoldAfter,
		ReserveAfter:    t.ReserveAfter,
		FXRate:          t.FXRate,
		DisplayValue:    t.DisplayValue,
		CreatedAt:       t.CreatedAt,
	}
}

type candleDTO struct {
	Bucket        time.Time       `json:"bucket"`
	Interval      int             `json:"interval_seconds"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
	TradeCount    int             `json:"trade_count"`
	FXRate        decimal.Decimal `json:"fx_rate"`
	CloseDisplay  decimal.Decimal `json:"close_display"`
	VolumeDisplay decimal.Decimal `json:"volume_display"`
}

func candleFrom(c *domain.Candle) candleDTO {
	return candleDTO{
		Bucket:        c.Bucket,
		Interval:      c.IntervalSeconds,
		Open:          c.Open,
		High:          c.High,
		Low:           c.Low,
		Close:         c.Close,
		Volume:        c.Volume,
		TradeCount:    c.TradeCount,
		FXRate:        c.FXRate,
		CloseDisplay:  c.CloseDisplay,
		VolumeDisplay: c.VolumeDisplay,
	}
}

type graduationStatusDTO struct {
	AgentID     string                   `json:"agent_id"`
	Status      domain.GraduationStatus  `json:"status"`
	Policy      *domain.GraduationPolicy `json:"policy,omitempty"`
	Snapshot    *domain.MetricSnapshot   `json:"snapshot,omitempty"`
	TriggeredAt *time.Time               `json:"triggered_at,omitempty"`
	Current     *domain.MetricSnapshot   `json:"current,omitempty"`
	Valuation   graduation.Valuation     `json:"valuation"`
}

func graduationStatusFrom(v *graduation.StatusView) graduationStatusDTO {
	return graduationStatusDTO{
		AgentID:     v.AgentID,
		Status:      v.Status,
		Policy:      v.Policy,
		Snapshot:    v.Snapshot,
		TriggeredAt: v.TriggeredAt,
		Current:     v.Current,
		Valuation:   v.Valuation,
	}
}

type evaluationDTO struct {
	AgentID      string                  `json:"agent_id"`
	Status       domain.GraduationStatus `json:"status"`
	PolicyID     string                  `json:"policy_id"`
	Matched      bool                    `json:"matched"`
	Transitioned bool                    `json:"transitioned"`
	Snapshot     *domain.MetricSnapshot  `json:"snapshot,omitempty"`
}

type scheduleDTO struct {
	ScheduleID  string               `json:"schedule_id"`
	Beneficiary string               `json:"beneficiary"`
	AgentID     string               `json:"agent_id"`
	Purpose     string               `json:"purpose"`
	Kind        domain.VestingKind   `json:"kind"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	Start       *time.Time           `json:"start,omitempty"`
	End         *time.Time           `json:"end,omitempty"`
	Steps       []domain.VestingStep `json:"steps,omitempty"`
	Claimed     decimal.Decimal      `json:"claimed"`
	Halted      bool                 `json:"halted"`
	CreatedAt   time.Time            `json:"created_at"`
}

func scheduleFrom(s *domain.VestingSchedule) scheduleDTO {
	d := scheduleDTO{
		ScheduleID:  s.ScheduleID,
		Beneficiary: s.Beneficiary,
		AgentID:     s.AgentID,
		Purpose:     s.Purpose,
		Kind:        s.Kind,
		TotalAmount: s.TotalAmount,
		Steps:       s.Steps,
		Claimed:     s.Claimed,
		Halted:      s.Halted,
		CreatedAt:   s.CreatedAt,
	}
	if s.Kind == domain.VestingLinear {
		start, end := s.Start, s.End
		d.Start, d.End = &start, &end
	}
	return d
}

type claimRequestDTO struct {
	Beneficiary    string `json:"beneficiary"`
	IdempotencyKey string `json:"idempotency_key"`
}

type claimDTO struct {
	ClaimID        string          `json:"claim_id,omitempty"`
	ScheduleID     string          `json:"schedule_id"`
	Beneficiary    string          `json:"beneficiary"`
	Amount         decimal.Decimal `json:"amount"`
	ClaimedAfter   decimal.Decimal `json:"claimed_after"`
	VestedAt       decimal.Decimal `json:"vested"`
	Remaining      decimal.Decimal `json:"remaining"`
	ClaimedAt      time.Time       `json:"claimed_at"`
	AlreadyClaimed bool            `json:"already_claimed"`
}

func claimFrom(r *vesting.ClaimResult) claimDTO {
	return claimDTO{
		ClaimID:        r.ClaimID,
		ScheduleID:     r.ScheduleID,
		Beneficiary:    r.Beneficiary,
		Amount:         r.Amount,
		ClaimedAfter:   r.ClaimedAfter,
		VestedAt:       r.VestedAt,
		Remaining:      r.Remaining,
		ClaimedAt:      r.ClaimedAt,
		AlreadyClaimed: r.AlreadyClaimed,
	}
}
