package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"agent-launchpad/internal/curve"
	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/registry"
)

func (h *Handler) createPolicy(c *gin.Context) {
	var p domain.GraduationPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid policy body: "+err.Error())
		return
	}
	policy, err := h.registry.CreatePolicy(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	created(c, policy)
}

func (h *Handler) createAgent(c *gin.Context) {
	var body createAgentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid agent body: "+err.Error())
		return
	}
	req := registry.CreateAgentRequest{
		AgentID:   strings.TrimSpace(body.AgentID),
		CreatorID: strings.TrimSpace(body.CreatorID),
		Symbol:    strings.TrimSpace(body.Symbol),
		PolicyID:  strings.TrimSpace(body.PolicyID),
		Curve:     body.Curve.toDomain(),
	}
	if body.Team != nil {
		req.Team = &registry.TeamAllocation{
			Beneficiary: body.Team.Beneficiary,
			Amount:      body.Team.Amount,
			Steps:       body.Team.Steps,
		}
	}
	agent, err := h.registry.CreateAgent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	created(c, agentFrom(agent))
}

func (h *Handler) getAgent(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")

	agent, err := h.agents.GetByID(ctx, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	state, err := h.states.Get(ctx, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	status, err := h.graduation.GetGraduationStatus(ctx, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	cv, err := curve.New(agent.Curve)
	if err != nil {
		writeError(c, err)
		return
	}

	ok(c, agentDetailDTO{
		Agent: agentFrom(agent),
		State: curveStateDTO{
			TokensSold:     state.TokensSold,
			ReserveBalance: state.ReserveBalance,
			RaisedDisplay:  state.RaisedDisplay,
			Raised:         fx.Format(state.RaisedDisplay, h.unit),
			Price:          cv.PriceAt(state.TokensSold),
			TradeCount:     state.TradeCount,
			Halted:         state.Halted,
			HaltReason:     state.HaltReason,
			UpdatedAt:      state.UpdatedAt,
		},
		Graduation: graduationStatusFrom(status),
	}, nil)
}

func (h *Handler) getHolder(c *gin.Context) {
	b, err := h.holders.Get(c.Request.Context(), c.Param("id"), c.Param("holder"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, holderFrom(b), nil)
}

func (h *Handler) listTrades(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")

	start, end, ranged, err := timeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var trades []*domain.TradeRecord
	if ranged {
		trades, err = h.trades.GetByTimeRange(ctx, agentID, start, end)
	} else {
		trades, err = h.trades.GetByAgentID(ctx, agentID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]tradeRecordDTO, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeRecordFrom(t))
	}
	ok(c, out, map[string]any{"count": len(out)})
}

func (h *Handler) listCandles(c *gin.Context) {
	if h.candles == nil {
		fail(c, http.StatusNotImplemented, domain.KindInternal, "candle storage not configured")
		return
	}
	interval := 60
	if v := c.Query("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, fmt.Sprintf("invalid interval %q", v))
			return
		}
		interval = n
	}
	start, end, ranged, err := timeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ranged {
		end = time.Now().UTC()
		start = end.Add(-24 * time.Hour)
	}

	candles, err := h.candles.GetByTimeRange(c.Request.Context(), c.Param("id"), interval, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]candleDTO, 0, len(candles))
	for _, cd := range candles {
		out = append(out, candleFrom(cd))
	}
	ok(c, out, map[string]any{"interval_seconds": interval})
}

// timeRange parses the optional from/to RFC 3339 query parameters. Both or
// neither must be present.
func timeRange(c *gin.Context) (time.Time, time.Time, bool, error) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" && to == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, false, fmt.Errorf("from and to must be given together")
	}
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid from: %v", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid to: %v", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false, fmt.Errorf("to must be after from")
	}
	return start.UTC(), end.UTC(), true, nil
}
