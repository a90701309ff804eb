package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"moonmining-backend/internal/store"
	"moonmining-backend/internal/valuation"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	webpush    *webpush.Options
	aggregator *valuation.Aggregator
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, aggregator *valuation.Aggregator) *Handler {
	return &Handler{
		store:      s,
		webpush:    webpushOptions,
		aggregator: aggregator,
	}
}
