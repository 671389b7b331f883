package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/rs/zerolog/log"

	"ticker-panel/internal/insight"
	"ticker-panel/internal/store"
	"ticker-panel/internal/watchlist"
)

type Watchlist interface {
	Add(ctx context.Context, symbol string) (watchlist.Asset, error)
	Remove(symbol string) bool
	Reorder(symbol string, target int) error
	RefreshAll(ctx context.Context) watchlist.RefreshReport
	RefreshHistory(ctx context.Context) watchlist.HistoryReport
	Detail(ctx context.Context, symbol string) (watchlist.Detail, error)
	Icon(ctx context.Context, symbol string) (string, error)
	Snapshot() watchlist.State
}

// Journal is optional; routes report 503 when it is nil.
type Journal interface {
	QueryTicks(symbol string, limit int, offset int) ([]store.TickRecord, error)
	QueryEvents(action string, limit int, offset int) ([]store.EventRecord, error)
}

type AddRequest struct {
	Symbol string `json:"symbol"`
}

type ReorderRequest struct {
	Symbol string `json:"symbol"`
	Index  *int   `json:"index"`
}

func RegisterRoutes(h *server.Hertz, wl Watchlist, journal Journal, agent *insight.Agent) {
	h.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	v1 := h.Group("/api/v1")

	v1.GET("/watchlist", func(_ context.Context, c *app.RequestContext) {
		st := wl.Snapshot()
		c.JSON(http.StatusOK, map[string]any{
			"ok":          true,
			"assets":      st.Assets,
			"correlation": st.Correlation,
			"updated_at":  st.UpdatedAt,
		})
	})

	v1.POST("/watchlist", func(ctx context.Context, c *app.RequestContext) {
		var req AddRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "invalid json body",
			})
			return
		}
		asset, err := wl.Add(ctx, req.Symbol)
		if err != nil {
			status := errorStatus(err)
			if status == http.StatusBadGateway {
				log.Warn().Str("component", "api").Str("symbol", req.Symbol).Err(err).Msg("add failed")
			}
			c.JSON(status, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusCreated, map[string]any{
			"ok":    true,
			"asset": asset,
		})
	})

	v1.DELETE("/watchlist/:symbol", func(_ context.Context, c *app.RequestContext) {
		sym := c.Param("symbol")
		removed := wl.Remove(sym)
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"symbol":  strings.ToUpper(strings.TrimSpace(sym)),
			"removed": removed,
		})
	})

	v1.POST("/watchlist/reorder", func(_ context.Context, c *app.RequestContext) {
		var req ReorderRequest
		if err := c.BindJSON(&req); err != nil || req.Index == nil {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "symbol and index are required",
			})
			return
		}
		if err := wl.Reorder(req.Symbol, *req.Index); err != nil {
			c.JSON(errorStatus(err), map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"symbols": wl.Snapshot().Symbols(),
		})
	})

	v1.POST("/watchlist/refresh", func(ctx context.Context, c *app.RequestContext) {
		resp := map[string]any{"ok": true}
		if c.Query("history") == "1" || c.Query("history") == "true" {
			resp["history"] = wl.RefreshHistory(ctx)
		}
		resp["prices"] = wl.RefreshAll(ctx)
		c.JSON(http.StatusOK, resp)
	})

	v1.GET("/correlation", func(_ context.Context, c *app.RequestContext) {
		st := wl.Snapshot()
		c.JSON(http.StatusOK, map[string]any{
			"ok":          true,
			"correlation": st.Correlation,
		})
	})

	v1.GET("/assets/:symbol", func(ctx context.Context, c *app.RequestContext) {
		d, err := wl.Detail(ctx, c.Param("symbol"))
		if err != nil {
			c.JSON(errorStatus(err), map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"detail": d,
		})
	})

	v1.GET("/icons/:symbol", func(ctx context.Context, c *app.RequestContext) {
		u, err := wl.Icon(ctx, c.Param("symbol"))
		if err != nil {
			c.JSON(errorStatus(err), map[string]any{
				"ok":    false,
				"error": "Failed to fetch crypto image",
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"image_url": u,
		})
	})

	v1.GET("/insight", func(ctx context.Context, c *app.RequestContext) {
		in := insight.FromState(wl.Snapshot())
		out, err := agent.Describe(ctx, in)
		resp := map[string]any{
			"ok":      true,
			"insight": out,
		}
		if err != nil {
			resp["warning"] = "llm unavailable, using fallback"
		}
		c.JSON(http.StatusOK, resp)
	})

	v1.GET("/insight/ping", func(ctx context.Context, c *app.RequestContext) {
		res, err := insight.Ping(agent, ctx)
		if err != nil {
			res["error"] = err.Error()
		}
		c.JSON(http.StatusOK, res)
	})

	v1.GET("/ticks", func(_ context.Context, c *app.RequestContext) {
		if journal == nil {
			journalDisabled(c)
			return
		}
		limit, offset, ok := parsePage(c)
		if !ok {
			return
		}
		sym := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
		ticks, err := journal.QueryTicks(sym, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":    true,
			"items": ticks,
		})
	})

	v1.GET("/events", func(_ context.Context, c *app.RequestContext) {
		if journal == nil {
			journalDisabled(c)
			return
		}
		limit, offset, ok := parsePage(c)
		if !ok {
			return
		}
		events, err := journal.QueryEvents(strings.ToLower(c.Query("action")), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":    true,
			"items": events,
		})
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, watchlist.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, watchlist.ErrDuplicate), errors.Is(err, watchlist.ErrAddInFlight):
		return http.StatusConflict
	case errors.Is(err, watchlist.ErrNotFound), errors.Is(err, watchlist.ErrNotTracked):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func journalDisabled(c *app.RequestContext) {
	c.JSON(http.StatusServiceUnavailable, map[string]any{
		"ok":    false,
		"error": "journal disabled",
	})
}

func parsePage(c *app.RequestContext) (int, int, bool) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return 0, 0, false
	}
	offset, err := parseOffset(c.Query("offset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return 0, 0, false
	}
	return limit, offset, true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 200, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if v > 1000 {
		return 1000, nil
	}
	return v, nil
}

func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid offset")
	}
	return v, nil
}
