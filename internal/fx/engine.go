package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finflow/openfinance-engine/internal/money"
)

// Booking failures. Both are terminal for the quote id in question; the
// caller must request a fresh quote, never retry the same one.
var (
	ErrQuoteNotFound = errors.New("quote not found")
	ErrQuoteExpired  = errors.New("quote expired")
	ErrAlreadyBooked = errors.New("quote already booked")
	ErrDealNotFound  = errors.New("deal not found")
)

// RateSource is the external rate provider port.
type RateSource interface {
	Rate(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Settings holds quote generation parameters.
type Settings struct {
	QuoteValidity time.Duration
	RatePrecision int32 // decimal places, 6 in production
}

// Engine generates expiring, versioned quotes and converts a valid quote into
// a deal exactly once.
type Engine struct {
	quotes   *QuoteStore
	deals    *DealStore
	rates    RateSource
	settings Settings
	nowFunc  func() time.Time
}

// NewEngine wires the booking engine.
func NewEngine(quotes *QuoteStore, deals *DealStore, rates RateSource, settings Settings) *Engine {
	return &Engine{
		quotes:   quotes,
		deals:    deals,
		rates:    rates,
		settings: settings,
		nowFunc:  time.Now,
	}
}

// Quote prices sourceAmount at the current rate for pair. The quote is valid
// through now+QuoteValidity inclusive, at version 0.
func (e *Engine) Quote(ctx context.Context, pair string, sourceAmount decimal.Decimal) (*Quote, error) {
	rate, err := e.rates.Rate(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("rate source: %w", err)
	}
	rate = rate.Round(e.settings.RatePrecision)

	now := e.nowFunc().UTC()
	q := &Quote{
		QuoteID:      "QTE-FX-" + uuid.NewString(),
		CurrencyPair: pair,
		Rate:         money.FromDecimal(rate),
		SourceAmount: money.FromDecimal(sourceAmount.Round(2)),
		TargetAmount: money.FromDecimal(sourceAmount.Mul(rate).Round(2)),
		ValidUntil:   now.Add(e.settings.QuoteValidity).UnixMilli(),
		Version:      0,
		Status:       StatusQuoted,
		CreatedAt:    now,
	}
	if err := e.quotes.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return q, nil
}

// Book converts quote quoteID into a deal. Callers must hold a fresh
// idempotency slot: a ledger REPLAY short-circuits before reaching here.
//
// The QUOTED->BOOKED transition is a version-checked CAS; under N concurrent
// attempts exactly one caller creates the deal, everyone else gets
// ErrAlreadyBooked or ErrQuoteExpired.
func (e *Engine) Book(ctx context.Context, quoteID string) (*Deal, error) {
	q, err := e.quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrQuoteNotFound
	}
	switch q.Status {
	case StatusBooked:
		return nil, ErrAlreadyBooked
	case StatusExpired:
		return nil, ErrQuoteExpired
	}

	now := e.nowFunc().UTC()
	if now.UnixMilli() > q.ValidUntil {
		// Lazy expiry; losing this CAS means someone else finalized it.
		_ = e.quotes.MarkExpired(ctx, q.QuoteID, q.Version)
		return nil, ErrQuoteExpired
	}

	deal := &Deal{
		DealID:           "DEAL-FX-" + uuid.NewString(),
		QuoteID:          q.QuoteID,
		BookedRate:       q.Rate,
		SourceAmount:     q.SourceAmount,
		TargetAmount:     q.TargetAmount,
		SettlementStatus: SettlementPending,
		BookedAt:         now,
	}
	// CAS and deal put land in one transaction; a failure here leaves the
	// quote QUOTED so a retried booking can still succeed.
	if err := e.quotes.BookWithDeal(ctx, q.QuoteID, q.Version, now.UnixMilli(), e.deals.tableName, deal); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, e.classifyLostBooking(ctx, q.QuoteID)
		}
		return nil, err
	}
	return deal, nil
}

// classifyLostBooking distinguishes a race lost to another booking from a
// quote that lapsed mid-flight.
func (e *Engine) classifyLostBooking(ctx context.Context, quoteID string) error {
	latest, err := e.quotes.Get(ctx, quoteID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == StatusBooked {
		return ErrAlreadyBooked
	}
	return ErrQuoteExpired
}

// GetQuote returns the quote, lazily expiring it when its validity lapsed so
// reads never observe a stale QUOTED status.
func (e *Engine) GetQuote(ctx context.Context, quoteID string) (*Quote, error) {
	q, err := e.quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrQuoteNotFound
	}
	if q.Status == StatusQuoted && e.nowFunc().UnixMilli() > q.ValidUntil {
		_ = e.quotes.MarkExpired(ctx, q.QuoteID, q.Version)
		q.Status = StatusExpired
		q.Version++
	}
	return q, nil
}

// GetDeal returns a booked deal.
func (e *Engine) GetDeal(ctx context.Context, dealID string) (*Deal, error) {
	d, err := e.deals.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDealNotFound
	}
	return d, nil
}
