package ingestion

import (
	"encoding/json"
	"fmt"

	"PerpEngine/internal/state"
)

// PriceUpdate is the JSON wire format on perp.prices.{asset}. Field
// names use snake_case to match upstream producers. An empty Source
// updates the primary (mark) price; a named Source updates a secondary
// feed used for the index median. Available=false marks the feed stale
// without publishing a price.
type PriceUpdate struct {
	Asset       string `json:"asset"`
	Price       int64  `json:"price"` // scaled by 1e6
	Source      string `json:"source,omitempty"`
	Available   bool   `json:"available"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate validates and decodes a price message. Price must be
// positive unless the message only flips availability.
func ParsePriceUpdate(data []byte) (PriceUpdate, error) {
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return PriceUpdate{}, fmt.Errorf("%w: malformed price update: %v", state.ErrInvalidInput, err)
	}
	if u.Asset == "" {
		return PriceUpdate{}, fmt.Errorf("%w: price update missing asset", state.ErrInvalidInput)
	}
	if u.Available && u.Price <= 0 {
		return PriceUpdate{}, fmt.Errorf("%w: non-positive price %d for %s", state.ErrInvalidInput, u.Price, u.Asset)
	}
	return u, nil
}
