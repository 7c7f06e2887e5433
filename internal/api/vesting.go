package api

import (
	"github.com/gin-gonic/gin"

	"agent-launchpad/internal/vesting"
)

func (h *Handler) getSchedule(c *gin.Context) {
	s, err := h.vesting.GetSchedule(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, scheduleFrom(s), nil)
}

func (h *Handler) claimable(c *gin.Context) {
	scheduleID := c.Param("schedule_id")
	beneficiary := c.Query("beneficiary")
	if beneficiary == "" {
		badRequest(c, "beneficiary is required")
		return
	}
	amount, err := h.vesting.GetClaimable(c.Request.Context(), beneficiary, scheduleID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{
		"schedule_id": scheduleID,
		"beneficiary": beneficiary,
		"claimable":   amount,
	}, nil)
}

func (h *Handler) claim(c *gin.Context) {
	var body claimRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid claim body: "+err.Error())
		return
	}
	key := body.IdempotencyKey
	if key == "" {
		key = c.GetHeader(IdempotencyKeyHeader)
	}
	result, err := h.vesting.Claim(c.Request.Context(), vesting.ClaimRequest{
		ScheduleID:     c.Param("schedule_id"),
		Beneficiary:    body.Beneficiary,
		IdempotencyKey: key,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if result.AlreadyClaimed {
		ok(c, claimFrom(result), nil)
		return
	}
	created(c, claimFrom(result))
}

func (h *Handler) previewClaim(c *gin.Context) {
	var body claimRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid claim body: "+err.Error())
		return
	}
	result, err := h.vesting.PreviewClaim(c.Request.Context(), body.Beneficiary, c.Param("schedule_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, claimFrom(result), nil)
}
