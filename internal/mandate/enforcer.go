package mandate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finflow/openfinance-engine/internal/money"
)

// Enforcer failure modes besides LimitError.
var (
	ErrMandateNotFound   = errors.New("mandate not found")
	ErrMandateNotActive  = errors.New("mandate not active")
	ErrCurrencyMismatch  = errors.New("payment currency does not match mandate")
	ErrNonPositiveAmount = errors.New("payment amount must be positive")
	ErrPaymentNotFound   = errors.New("payment not found")
)

// Enforcer validates proposed payments against a mandate's per-payment and
// cumulative limits and records accepted collections.
type Enforcer struct {
	store   *Store
	nowFunc func() time.Time
}

// NewEnforcer wires the enforcer over a mandate store.
func NewEnforcer(store *Store) *Enforcer {
	return &Enforcer{store: store, nowFunc: time.Now}
}

// Register creates a mandate bound to a consent. Duplicate registration for
// the same consent returns the existing mandate unchanged.
func (e *Enforcer) Register(ctx context.Context, consentID, tppID, currency string, perPayment, cumulative decimal.Decimal, expiresAt time.Time) (*Mandate, error) {
	now := e.nowFunc().UTC()
	m := &Mandate{
		ConsentID:          consentID,
		TppID:              tppID,
		PerPaymentLimit:    money.FromDecimal(perPayment),
		CumulativeLimit:    money.FromDecimal(cumulative),
		CumulativeConsumed: money.Zero(),
		Currency:           currency,
		Status:             StatusActive,
		ExpiresAt:          expiresAt.Unix(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := e.store.Create(ctx, m)
	if errors.Is(err, ErrConditionFailed) {
		return e.Get(ctx, consentID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Get loads a mandate.
func (e *Enforcer) Get(ctx context.Context, consentID string) (*Mandate, error) {
	m, err := e.store.Get(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMandateNotFound
	}
	return m, nil
}

// AuthorizePayment validates and books amount against the mandate, in order:
// mandate active, amount <= per-payment limit, consumed+amount <= cumulative
// limit. The cumulative check-and-increment and the payment put run in one
// transaction, so two concurrent payments can never jointly exceed the limit
// and consumed headroom always has a matching payment record.
func (e *Enforcer) AuthorizePayment(ctx context.Context, consentID, tppID, currency string, amount decimal.Decimal) (*Payment, error) {
	m, err := e.Get(ctx, consentID)
	if err != nil {
		return nil, err
	}

	now := e.nowFunc().UTC()
	if !m.ActiveAt(now) {
		return nil, fmt.Errorf("%w: %s", ErrMandateNotActive, m.Status)
	}
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if currency != m.Currency {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, currency, m.Currency)
	}
	if amount.GreaterThan(m.PerPaymentLimit.Decimal) {
		return nil, &LimitError{Kind: LimitPerPayment}
	}

	p := &Payment{
		PaymentID: "PAY-VRP-" + uuid.NewString(),
		ConsentID: consentID,
		TppID:     tppID,
		Amount:    money.FromDecimal(amount),
		Currency:  currency,
		Status:    PaymentAccepted,
		CreatedAt: now,
	}

	// Limits are immutable, so the headroom derived from this read stays
	// valid; only cumulative_consumed races, and the conditional update
	// rechecks it server-side.
	headroom := m.CumulativeLimit.Sub(amount)
	err = e.store.ConsumeWithPayment(ctx, consentID, money.FromDecimal(amount), money.FromDecimal(headroom), now.Unix(), p)
	if errors.Is(err, ErrConditionFailed) {
		return nil, e.classifyLostConsume(ctx, consentID, now)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// classifyLostConsume distinguishes a mandate that went inactive from an
// exhausted cumulative limit.
func (e *Enforcer) classifyLostConsume(ctx context.Context, consentID string, now time.Time) error {
	latest, err := e.store.Get(ctx, consentID)
	if err != nil {
		return err
	}
	if latest == nil {
		return ErrMandateNotFound
	}
	if !latest.ActiveAt(now) {
		return fmt.Errorf("%w: %s", ErrMandateNotActive, latest.Status)
	}
	return &LimitError{Kind: LimitCumulative}
}

// Revoke terminally revokes the mandate. Already-terminal mandates are left
// untouched.
func (e *Enforcer) Revoke(ctx context.Context, consentID string) error {
	err := e.store.Revoke(ctx, consentID)
	if errors.Is(err, ErrConditionFailed) {
		latest, getErr := e.store.Get(ctx, consentID)
		if getErr != nil {
			return getErr
		}
		if latest == nil {
			return ErrMandateNotFound
		}
		// already revoked/expired: revocation is idempotent
		return nil
	}
	return err
}

// GetPayment loads a collected payment.
func (e *Enforcer) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}
