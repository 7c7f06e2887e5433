// Package api exposes the launchpad operations over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agent-launchpad/internal/fx"
	"agent-launchpad/internal/graduation"
	"agent-launchpad/internal/observability"
	"agent-launchpad/internal/registry"
	"agent-launchpad/internal/settlement"
	"agent-launchpad/internal/storage"
	"agent-launchpad/internal/vesting"
)

// Options wires the handlers to the services.
type Options struct {
	Settlement *settlement.Service
	Graduation *graduation.Service
	Vesting    *vesting.Service
	Registry   *registry.Registry

	Agents  storage.AgentStore
	States  storage.CurveStateStore
	Holders storage.HolderBalanceStore
	Trades  storage.TradeRecordStore
	Candles storage.CandleStore // optional

	Stream http.Handler // optional WebSocket endpoint

	DisplayUnit fx.Unit // zero means fx.USD

	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(*gin.Context) error

	Logger *zap.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	settlement *settlement.Service
	graduation *graduation.Service
	vesting    *vesting.Service
	registry   *registry.Registry
	agents     storage.AgentStore
	states     storage.CurveStateStore
	holders    storage.HolderBalanceStore
	trades     storage.TradeRecordStore
	candles    storage.CandleStore
	stream     http.Handler
	unit       fx.Unit
	ready      func(*gin.Context) error
	logger     *zap.Logger
}

// New validates opts and creates a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Settlement == nil || opts.Graduation == nil || opts.Vesting == nil || opts.Registry == nil {
		return nil, errors.New("api: settlement, graduation, vesting and registry are required")
	}
	if opts.Agents == nil || opts.States == nil || opts.Holders == nil || opts.Trades == nil {
		return nil, errors.New("api: agent, state, holder and trade stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	unit := opts.DisplayUnit
	if unit.Code == "" {
		unit = fx.USD
	}
	return &Handler{
		settlement: opts.Settlement,
		graduation: opts.Graduation,
		vesting:    opts.Vesting,
		registry:   opts.Registry,
		agents:     opts.Agents,
		states:     opts.States,
		holders:    opts.Holders,
		trades:     opts.Trades,
		candles:    opts.Candles,
		stream:     opts.Stream,
		unit:       unit,
		ready:      opts.Ready,
		logger:     logger,
	}, nil
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(accessLog(h.logger))
	h.Register(engine)
	return engine
}

// Register adds the routes to r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.readiness)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	if h.stream != nil {
		r.GET("/api/v1/stream", gin.WrapH(h.stream))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/policies", h.createPolicy)

	agents := v1.Group("/agents")
	agents.POST("", h.createAgent)
	agents.GET("/:id", h.getAgent)
	agents.GET("/:id/quote", h.quote)
	agents.POST("/:id/trades", h.settleTrade)
	agents.POST("/:id/trades/preview", h.previewTrade)
	agents.GET("/:id/trades", h.listTrades)
	agents.GET("/:id/holders/:holder", h.getHolder)
	agents.GET("/:id/candles", h.listCandles)
	agents.GET("/:id/graduation", h.graduationStatus)
	agents.POST("/:id/graduation/evaluate", h.evaluateGraduation)

	vest := v1.Group("/vesting")
	vest.GET("/:schedule_id", h.getSchedule)
	vest.GET("/:schedule_id/claimable", h.claimable)
	vest.POST("/:schedule_id/claims", h.claim)
	vest.POST("/:schedule_id/claims/preview", h.previewClaim)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readiness(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
