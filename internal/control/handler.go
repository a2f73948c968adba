// Package control serves the operator API over the shared database.
package control

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"futures-signal-bot-go/internal/models"
	"futures-signal-bot-go/internal/trade"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxPositionsLimit = 500

// Store is what the API reads and writes.
type Store interface {
	IsRunning(ctx context.Context) (bool, error)
	SetRunning(ctx context.Context, running bool) error
	CountOpenPositions(ctx context.Context, venue trade.Venue) (int64, error)
	ListPositions(ctx context.Context, venue string, limit int) ([]models.Position, error)
}

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log       *zap.Logger
	store     Store
	uuid      string
	startTime time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, store Store) *APIHandler {
	return &APIHandler{
		log:       log.Named("control-api"),
		store:     store,
		uuid:      uuid.NewString(),
		startTime: time.Now(),
	}
}

// Router returns the gin engine with every route registered.
func (h *APIHandler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes binds the handlers to router.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	api := router.Group("/api")
	{
		api.GET("/status", h.Status)
		api.POST("/bot/start", h.Start)
		api.POST("/bot/stop", h.Stop)
		api.GET("/positions", h.Positions)
	}
}

// Health answers liveness checks.
func (h *APIHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	UUID          string           `json:"uuid"`
	IsRunning     bool             `json:"is_running"`
	OpenPositions map[string]int64 `json:"open_positions"`
	StartTime     string           `json:"start_time"`
	Uptime        string           `json:"uptime"`
}

// Status reports the run flag and open positions per venue.
func (h *APIHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	running, err := h.store.IsRunning(ctx)
	if err != nil {
		h.log.Error("Failed to read run flag", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run flag"})
		return
	}

	open := make(map[string]int64, 2)
	for _, venue := range []trade.Venue{trade.VenueCEX, trade.VenueDEX} {
		n, err := h.store.CountOpenPositions(ctx, venue)
		if err != nil {
			h.log.Error("Failed to count open positions", zap.String("venue", string(venue)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count positions"})
			return
		}
		open[string(venue)] = n
	}

	c.JSON(http.StatusOK, StatusResponse{
		UUID:          h.uuid,
		IsRunning:     running,
		OpenPositions: open,
		StartTime:     h.startTime.Format(time.RFC3339),
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Start resumes the pipeline loops at their next cycle.
func (h *APIHandler) Start(c *gin.Context) { h.setRunning(c, true) }

// Stop pauses the pipeline loops at their next cycle. An order already in flight completes.
func (h *APIHandler) Stop(c *gin.Context) { h.setRunning(c, false) }

func (h *APIHandler) setRunning(c *gin.Context, running bool) {
	if err := h.store.SetRunning(c.Request.Context(), running); err != nil {
		h.log.Error("Failed to update run flag", zap.Bool("running", running), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update run flag"})
		return
	}
	h.log.Info("Run flag updated", zap.Bool("running", running))
	c.JSON(http.StatusOK, gin.H{"is_running": running})
}

// Positions lists recorded positions, most recent first. Query: venue, limit.
func (h *APIHandler) Positions(c *gin.Context) {
	venue := c.Query("venue")
	if venue != "" && venue != string(trade.VenueCEX) && venue != string(trade.VenueDEX) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "venue must be CEX or DEX"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxPositionsLimit {
		limit = maxPositionsLimit
	}

	positions, err := h.store.ListPositions(c.Request.Context(), venue, limit)
	if err != nil {
		h.log.Error("Failed to get positions from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get positions"})
		return
	}
	c.JSON(http.StatusOK, positions)
}
