package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable signals the rate source has no price for the pair.
var ErrRateUnavailable = errors.New("rate unavailable for currency pair")

// StaticRateSource serves rates from a fixed table, e.g. parsed from the
// FX_RATES environment variable. It stands in for the treasury rate feed in
// local runs and tests.
type StaticRateSource struct {
	rates map[string]decimal.Decimal
}

// NewStaticRateSource copies the given table.
func NewStaticRateSource(rates map[string]decimal.Decimal) *StaticRateSource {
	copied := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		copied[strings.ToUpper(k)] = v
	}
	return &StaticRateSource{rates: copied}
}

// ParseRateTable parses "AED/USD=0.272294,USD/AED=3.6725" style config.
func ParseRateTable(raw string) (map[string]decimal.Decimal, error) {
	rates := map[string]decimal.Decimal{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, rateStr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed rate entry %q", entry)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rateStr))
		if err != nil {
			return nil, fmt.Errorf("malformed rate for %q: %w", pair, err)
		}
		rates[strings.ToUpper(strings.TrimSpace(pair))] = rate
	}
	return rates, nil
}

// Rate implements RateSource.
func (s *StaticRateSource) Rate(ctx context.Context, pair string) (decimal.Decimal, error) {
	rate, ok := s.rates[strings.ToUpper(pair)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrRateUnavailable, pair)
	}
	return rate, nil
}
