package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ChainPulse/internal/domain/models"
	domrepo "ChainPulse/internal/domain/repository"
	"ChainPulse/internal/service/ratelimit"
	"ChainPulse/internal/usecase"
	"ChainPulse/pkg/cache"
	xhttp "ChainPulse/pkg/http"
	xlogger "ChainPulse/pkg/logger"
	"ChainPulse/pkg/util"
)

// Per-client budget for the database-backed endpoints.
const (
	queryBurst  = 5
	queryPerSec = 2
)

// StatusDeps are the read models behind the status API. Archive may be nil.
type StatusDeps struct {
	State   *usecase.RunState
	Store   domrepo.SnapshotStore
	Ledger  domrepo.DiscoveryLedger
	Cache   cache.Service
	Archive domrepo.ArchiveReader
}

// StatusHandler serves the read-only status API.
type StatusHandler struct {
	StatusDeps
	logger *xlogger.Logger
	rl     *ratelimit.Limiter
	now    func() time.Time
}

func NewStatusHandler(deps StatusDeps, logger *xlogger.Logger) *StatusHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &StatusHandler{StatusDeps: deps, logger: logger.Component("api"), rl: ratelimit.New(), now: time.Now}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api/v1")
	g.GET("/status", h.Status)
	g.GET("/discoveries", h.Discoveries)
	g.GET("/history", h.History, h.limit("history"))
	g.GET("/packets/latest", h.LatestPacket)
	if h.Archive != nil {
		g.GET("/archive", h.ArchiveRows, h.limit("archive"))
	}
}

func (h *StatusHandler) limit(endpoint string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !h.rl.Allow(c.RealIP()+":"+endpoint, queryBurst, queryPerSec) {
				h.logger.Warn("rate limited", xlogger.String("endpoint", endpoint), xlogger.String("remote", c.RealIP()))
				return xhttp.TooManyRequestsResponse(c)
			}
			return next(c)
		}
	}
}

// StatusView is the body of GET /api/v1/status.
type StatusView struct {
	Run       usecase.RunStatus    `json:"run"`
	Store     *domrepo.StoreStats  `json:"store,omitempty"`
	LastCycle *models.CycleSummary `json:"last_cycle,omitempty"`
}

func (h *StatusHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": h.State != nil && h.State.Running(),
	})
}

func (h *StatusHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	var view StatusView
	if h.State != nil {
		view.Run = h.State.Snapshot()
	}
	if h.Store != nil {
		stats, err := h.Store.Stats(ctx)
		if err != nil {
			h.logger.Error("store stats failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, queryError("store", err))
		}
		view.Store = &stats
	}
	if h.Cache != nil {
		last, err := cache.GetTyped[models.CycleSummary](ctx, h.Cache, usecase.CacheKeyStatus)
		switch {
		case err == nil:
			view.LastCycle = &last
		case !errors.Is(err, cache.ErrCacheMiss):
			h.logger.Warn("status cache read failed", xlogger.Error(err))
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, view)
}

func (h *StatusHandler) Discoveries(c echo.Context) error {
	req := &models.DiscoveriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date := req.Date
	if date == "" {
		date = h.now().In(util.IST).Format(time.DateOnly)
	}
	list, err := h.Ledger.List(c.Request().Context(), date)
	if err != nil {
		h.logger.Error("discoveries query failed", xlogger.String("date", date), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, queryError("ledger", err))
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

// HistoryView is the body of GET /api/v1/history.
type HistoryView struct {
	Symbol    string  `json:"symbol"`
	Bucket    string  `json:"bucket"`
	Strike    int64   `json:"strike"`
	ChgOIDiff []int64 `json:"chg_oi_diff"`
}

// History returns chg_oi_diff for a strike from the latest cycle backwards, by slot index.
func (h *StatusHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	stats, err := h.Store.Stats(ctx)
	if err != nil {
		return h.storeError(c, err)
	}
	values, err := h.Store.History(ctx, domrepo.HistoryQuery{
		Symbol:  req.Symbol,
		Bucket:  models.BucketTag(req.Bucket),
		Strike:  req.Strike,
		Current: stats.CurrentCycle + 1,
		Depth:   req.Depth,
	})
	if err != nil {
		return h.storeError(c, err)
	}
	return xhttp.SuccessResponse(c, HistoryView{Symbol: req.Symbol, Bucket: req.Bucket, Strike: req.Strike, ChgOIDiff: values})
}

func (h *StatusHandler) LatestPacket(c echo.Context) error {
	if h.Cache == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no packet yet"))
	}
	packets, err := cache.GetTyped[[]models.Packet](c.Request().Context(), h.Cache, usecase.CacheKeyLatestPacket)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("packet cache read failed", xlogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no packet yet"))
	}
	return xhttp.ListResponse(c, packets, int64(len(packets)))
}

// ArchiveRows reads the analytic mirror for one symbol and bucket. Dates are IST calendar days, "to" inclusive.
func (h *StatusHandler) ArchiveRows(c echo.Context) error {
	req := &models.ArchiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	q := domrepo.ArchiveQuery{
		Symbol: req.Symbol,
		Bucket: models.BucketTag(req.Bucket),
		From:   xhttp.ParseDateDefault(req.From, time.Time{}),
		Limit:  req.Limit,
	}
	if to := xhttp.ParseDateDefault(req.To, time.Time{}); !to.IsZero() {
		q.To = to.AddDate(0, 0, 1)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	rows, err := h.Archive.Query(ctx, q)
	if err != nil {
		return h.storeError(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusHandler) storeError(c echo.Context, err error) error {
	h.logger.Error("query failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, queryError("store", err))
}
