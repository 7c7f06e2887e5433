package api

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/settlement"
)

// IdempotencyKeyHeader may carry the key instead of the request body.
const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) quote(c *gin.Context) {
	direction := domain.Direction(c.Query("direction"))
	if !direction.Valid() {
		badRequest(c, "direction must be buy or sell")
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		badRequest(c, "invalid amount")
		return
	}

	q, err := h.settlement.GetQuote(c.Request.Context(), c.Param("id"), direction, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, quoteFrom(q), nil)
}

func (h *Handler) settleTrade(c *gin.Context) {
	req, bound := h.bindTrade(c)
	if !bound {
		return
	}
	result, err := h.settlement.SettleTrade(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.AlreadySettled {
		ok(c, tradeFrom(result), nil)
		return
	}
	created(c, tradeFrom(result))
}

func (h *Handler) previewTrade(c *gin.Context) {
	req, bound := h.bindTrade(c)
	if !bound {
		return
	}
	result, err := h.settlement.PreviewTrade(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, tradeFrom(result), nil)
}

func (h *Handler) bindTrade(c *gin.Context) (settlement.TradeRequest, bool) {
	var body tradeRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid trade body: "+err.Error())
		return settlement.TradeRequest{}, false
	}
	key := body.IdempotencyKey
	if key == "" {
		key = c.GetHeader(IdempotencyKeyHeader)
	}
	return settlement.TradeRequest{
		AgentID:        c.Param("id"),
		HolderID:       body.HolderID,
		Direction:      body.Direction,
		Amount:         body.Amount,
		IdempotencyKey: key,
		ExpectedOut:    body.ExpectedOut,
		MaxSlippageBps: body.MaxSlippageBps,
	}, true
}
