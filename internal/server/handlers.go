package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/aman-zulfiqar/solana-bundler/internal/quote"
	"github.com/aman-zulfiqar/solana-bundler/internal/storage"
)

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Cache   storage.OutcomeCache // Redis-backed recent outcomes (optional)
	DevMode bool                 // Enable detailed error responses in development
	Logger  *logrus.Logger       // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health returns a simple health check endpoint
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{OK: true})
}

// Quote prices an input amount against caller-supplied reserves. Purely
// numeric; reserves from any source (virtual or live) price identically.
func (h *Handlers) Quote(c echo.Context) error {
	var req QuoteRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	if req.AmountIn == 0 {
		return h.err(c, http.StatusBadRequest, "amount_in must be > 0", nil)
	}
	if req.SlippagePercent > 100 {
		return h.err(c, http.StatusBadRequest, "slippage_percent must be <= 100", nil)
	}

	q := quote.Compute(req.ReserveIn, req.ReserveOut, req.AmountIn, req.SlippagePercent)
	return c.JSON(http.StatusOK, QuoteResponse{
		ExpectedOut: q.ExpectedOut,
		MinOut:      q.MinOut,
		Fallback:    q.Fallback,
	})
}

// RecentOutcomes returns the most recent bundle outcomes with optional
// limit parameter (default: 100, range: 1-200)
func (h *Handlers) RecentOutcomes(c echo.Context) error {
	if h.Cache == nil {
		return h.err(c, http.StatusServiceUnavailable, "outcome cache not configured", nil)
	}

	limitStr := c.QueryParam("limit")
	limit := 100
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > 200 {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 200"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	outcomes, err := h.Cache.GetRecentOutcomes(ctx, int64(limit))
	if err != nil {
		h.Logger.WithError(err).Error("failed to read recent outcomes")
		return h.err(c, http.StatusInternalServerError, "failed to read outcomes", err.Error())
	}

	return c.JSON(http.StatusOK, RecentOutcomesResponse{Outcomes: outcomes})
}
