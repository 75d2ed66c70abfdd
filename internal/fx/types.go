package fx

import (
	"time"

	"github.com/finflow/openfinance-engine/internal/money"
)

// Quote statuses. A quote moves QUOTED -> BOOKED exactly once, or
// QUOTED -> EXPIRED; both terminal states are immutable.
const (
	StatusQuoted  = "QUOTED"
	StatusBooked  = "BOOKED"
	StatusExpired = "EXPIRED"
)

// SettlementPending is the initial settlement status of a booked deal.
const SettlementPending = "PENDING_SETTLEMENT"

// Quote is the item stored in the FX quotes DynamoDB table. Version is the
// optimistic-concurrency token guarding the QUOTED->BOOKED transition.
type Quote struct {
	QuoteID      string       `dynamodbav:"quote_id"`      // PK
	CurrencyPair string       `dynamodbav:"currency_pair"` // "AED/USD"
	Rate         money.Amount `dynamodbav:"rate"`          // 6 dp
	SourceAmount money.Amount `dynamodbav:"source_amount"`
	TargetAmount money.Amount `dynamodbav:"target_amount"`
	ValidUntil   int64        `dynamodbav:"valid_until"` // epoch millis, inclusive
	Version      int64        `dynamodbav:"version"`
	Status       string       `dynamodbav:"status"`
	CreatedAt    time.Time    `dynamodbav:"created_at"`
}

// Terminal reports whether the quote can no longer change.
func (q *Quote) Terminal() bool {
	return q.Status == StatusBooked || q.Status == StatusExpired
}

// Deal is created exactly once per booked quote (1:1).
type Deal struct {
	DealID           string       `dynamodbav:"deal_id"` // PK
	QuoteID          string       `dynamodbav:"quote_id"`
	BookedRate       money.Amount `dynamodbav:"booked_rate"`
	SourceAmount     money.Amount `dynamodbav:"source_amount"`
	TargetAmount     money.Amount `dynamodbav:"target_amount"`
	SettlementStatus string       `dynamodbav:"settlement_status"`
	BookedAt         time.Time    `dynamodbav:"booked_at"`
}
