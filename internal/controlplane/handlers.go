package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/mirrorbox/internal/history"
	"github.com/openmined/mirrorbox/internal/mirror"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/openmined/mirrorbox/internal/version"
	"github.com/shirou/gopsutil/v4/process"
)

const maxHistoryLimit = 1000

// Engine is what the control plane needs from mirror.Engine.
type Engine interface {
	ID() string
	Run(ctx context.Context) error
	Progress() mirror.Snapshot
}

// HistoryReader is optional; nil disables /v1/history.
type HistoryReader interface {
	Recent(limit int) ([]history.Row, error)
}

type Handler struct {
	engine  Engine
	history HistoryReader
	logger  *slog.Logger
	started time.Time

	// triggered syncs outlive the request that started them
	baseCtx context.Context
	syncing atomic.Bool
	wg      sync.WaitGroup
}

func NewHandler(ctx context.Context, engine Engine, hist HistoryReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		engine:  engine,
		history: hist,
		logger:  logger,
		started: time.Now(),
		baseCtx: ctx,
	}
}

// Wait blocks until every sync started through the API has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) Health(c *gin.Context) {
	c.PureJSON(http.StatusOK, &HealthResponse{Status: "ok"})
}

func (h *Handler) Status(c *gin.Context) {
	uptime := time.Since(h.started)
	c.PureJSON(http.StatusOK, &StatusResponse{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       version.Current(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		MemoryRSS:     h.rss(c.Request.Context()),
		Syncing:       h.syncing.Load(),
		Progress:      report.NewRecord(h.engine.ID(), h.engine.Progress()),
	})
}

func (h *Handler) rss(ctx context.Context) uint64 {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		h.logger.Debug("process stats unavailable", "error", err)
		return 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		h.logger.Debug("process stats unavailable", "error", err)
		return 0
	}
	return mem.RSS
}

// Sync starts a full sync in the background. Only one API-triggered sync
// runs at a time.
func (h *Handler) Sync(c *gin.Context) {
	if !h.syncing.CompareAndSwap(false, true) {
		c.PureJSON(http.StatusConflict, &ErrorResponse{Error: "sync already running"})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.syncing.Store(false)

		if err := h.engine.Run(h.baseCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				h.logger.Info("triggered sync cancelled", "run", h.engine.ID())
				return
			}
			h.logger.Error("triggered sync failed", "run", h.engine.ID(), "error", err)
		}
	}()

	c.PureJSON(http.StatusAccepted, &SyncResponse{Status: "started", RunID: h.engine.ID()})
}

func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.PureJSON(http.StatusNotFound, &ErrorResponse{Error: "history is disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.PureJSON(http.StatusBadRequest, &ErrorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	rows, err := h.history.Recent(limit)
	if err != nil {
		_ = c.Error(err)
		c.PureJSON(http.StatusInternalServerError, &ErrorResponse{Error: err.Error()})
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}
	c.PureJSON(http.StatusOK, &HistoryResponse{Rows: rows})
}
