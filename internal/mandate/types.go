package mandate

import (
	"fmt"
	"time"

	"github.com/finflow/openfinance-engine/internal/money"
)

// Mandate statuses. REVOKED and EXPIRED are terminal.
const (
	StatusActive  = "ACTIVE"
	StatusRevoked = "REVOKED"
	StatusExpired = "EXPIRED"
)

// PaymentAccepted is the status of a successfully collected VRP payment.
const PaymentAccepted = "ACCEPTED"

// Mandate is the VRP agreement stored per consent. CumulativeConsumed only
// ever grows while the mandate is active; the conditional increment in the
// store linearizes concurrent collections.
type Mandate struct {
	ConsentID          string       `dynamodbav:"consent_id"` // PK, 1:1 with the consent
	TppID              string       `dynamodbav:"tpp_id"`
	PerPaymentLimit    money.Amount `dynamodbav:"per_payment_limit"`
	CumulativeLimit    money.Amount `dynamodbav:"cumulative_limit"`
	CumulativeConsumed money.Amount `dynamodbav:"cumulative_consumed"`
	Currency           string       `dynamodbav:"currency"`
	Status             string       `dynamodbav:"status"`
	ExpiresAt          int64        `dynamodbav:"expires_at"` // epoch seconds
	CreatedAt          time.Time    `dynamodbav:"created_at"`
	UpdatedAt          time.Time    `dynamodbav:"updated_at"`
}

// ActiveAt reports whether the mandate can authorize payments at t.
func (m *Mandate) ActiveAt(t time.Time) bool {
	return m.Status == StatusActive && t.Unix() < m.ExpiresAt
}

// Payment is a collected VRP payment.
type Payment struct {
	PaymentID string       `dynamodbav:"payment_id"` // PK
	ConsentID string       `dynamodbav:"consent_id"`
	TppID     string       `dynamodbav:"tpp_id"`
	Amount    money.Amount `dynamodbav:"amount"`
	Currency  string       `dynamodbav:"currency"`
	Status    string       `dynamodbav:"status"`
	CreatedAt time.Time    `dynamodbav:"created_at"`
}

// LimitKind names which limit a payment breached.
type LimitKind string

const (
	LimitPerPayment LimitKind = "PER_PAYMENT"
	LimitCumulative LimitKind = "CUMULATIVE"
)

// LimitError reports a breached mandate limit.
type LimitError struct {
	Kind LimitKind
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit exceeded: %s", e.Kind)
}
