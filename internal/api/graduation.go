package api

import (
	"github.com/gin-gonic/gin"
)

func (h *Handler) graduationStatus(c *gin.Context) {
	view, err := h.graduation.GetGraduationStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, graduationStatusFrom(view), nil)
}

func (h *Handler) evaluateGraduation(c *gin.Context) {
	outcome, err := h.graduation.EvaluateAndMaybeGraduate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, evaluationDTO{
		AgentID:      outcome.AgentID,
		Status:       outcome.Status,
		PolicyID:     outcome.PolicyID,
		Matched:      outcome.Matched,
		Transitioned: outcome.Transitioned,
		Snapshot:     outcome.Snapshot,
	}, nil)
}
