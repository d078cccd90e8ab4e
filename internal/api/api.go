// Package api exposes the ledger over HTTP. Every route passes through the
// origin quota middleware before its handler runs.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attest-dev/attest-ledger/internal/engine"
	"github.com/attest-dev/attest-ledger/internal/gate"
	"github.com/attest-dev/attest-ledger/pkg/schema"
)

type Handler struct {
	Gate  *gate.Gate
	Store engine.Store
}

// NewRouter builds the gin engine with middleware and all routes registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(RequestID())
	r.Use(h.OriginQuota())

	r.POST("/register", h.Register)
	r.POST("/entry", h.Submit)
	r.GET("/entries", h.Entries)
	r.GET("/agents", h.Agents)
	r.GET("/whoami", h.WhoAmI)

	return r
}

// RequestID tags each request with a correlation id, echoed in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// OriginQuota spends one unit of the per-origin daily quota on every request,
// read or write, before anything else runs.
func (h *Handler) OriginQuota() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := gate.OriginScope(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr)
		if err := h.Gate.CheckOrigin(origin); err != nil {
			h.fail(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) Register(c *gin.Context) {
	var input struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	agent, err := h.Gate.Register(input.Username)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"username":  agent.Username,
		"agent_key": agent.Key,
	})
}

func (h *Handler) Submit(c *gin.Context) {
	var input schema.EntryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	_, status, err := h.Gate.Submit(gate.SubmitRequest{
		AgentKey: c.GetHeader("X-Agent-Key"),
		WriteKey: c.GetHeader("X-Write-Key"),
		Input:    input,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "quota": status})
}

func (h *Handler) Entries(c *gin.Context) {
	entries, err := h.Store.RecentEntries(h.clampLimit(c.Query("limit")))
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []schema.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) Agents(c *gin.Context) {
	agents, err := h.Store.ListAgents()
	if err != nil {
		h.fail(c, err)
		return
	}
	if agents == nil {
		agents = []string{}
	}
	c.JSON(http.StatusOK, agents)
}

func (h *Handler) WhoAmI(c *gin.Context) {
	status, err := h.Gate.WhoAmI(c.GetHeader("X-Agent-Key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// clampLimit parses the limit query parameter into the configured safe band.
// Non-numeric values fall back to the default.
func (h *Handler) clampLimit(raw string) int {
	cfg := h.Gate.Config()
	if raw == "" {
		return cfg.ListDefault
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return cfg.ListDefault
	}
	if n < 1 {
		return 1
	}
	if n > cfg.ListMax {
		return cfg.ListMax
	}
	return n
}

// fail maps the gate's error taxonomy onto HTTP status codes. Internal
// failures are logged with the request id but never leak detail to callers.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *gate.ValidationError
	var rerr *gate.RateLimitedError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, gate.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, engine.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
	case errors.As(err, &rerr):
		c.Header("Retry-After", strconv.Itoa(rerr.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate limited",
			"scope":               rerr.Scope,
			"retry_after_seconds": rerr.RetryAfter,
		})
	default:
		log.Printf("internal error [%s]: %v", c.GetString("request_id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
