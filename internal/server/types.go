package server

import "github.com/aman-zulfiqar/solana-bundler/internal/models"

// ErrorResponse is the standard JSON error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"`
}

// HealthResponse is returned by the health check endpoint
type HealthResponse struct {
	OK bool `json:"ok"`
}

// QuoteRequest prices an input amount against supplied reserves
type QuoteRequest struct {
	ReserveIn       uint64 `json:"reserve_in"`
	ReserveOut      uint64 `json:"reserve_out"`
	AmountIn        uint64 `json:"amount_in"`
	SlippagePercent uint64 `json:"slippage_percent"`
}

// QuoteResponse carries the estimate and its slippage-bounded minimum
type QuoteResponse struct {
	ExpectedOut uint64 `json:"expected_out"`
	MinOut      uint64 `json:"min_out"`
	Fallback    bool   `json:"fallback"`
}

// RecentOutcomesResponse lists recent bundle outcomes, newest first
type RecentOutcomesResponse struct {
	Outcomes []*models.BundleOutcome `json:"outcomes"`
}
