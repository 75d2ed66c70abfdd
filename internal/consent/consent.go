package consent

import (
	"context"
	"fmt"
	"time"
)

// Consent statuses as exposed by the consent context.
const (
	StatusAuthorised = "AUTHORISED"
	StatusRevoked    = "REVOKED"
	StatusExpired    = "EXPIRED"
)

// Scopes the engine authorizes against.
const (
	ScopeFXBooking   = "fx-booking"
	ScopeVRP         = "recurring-payment"
	ScopeBulkPayment = "bulk-payment"
)

// Record is a read-only projection of a consent owned by the consent
// context. The engine never mutates it.
type Record struct {
	ConsentID string    `dynamodbav:"consent_id"` // PK
	TppID     string    `dynamodbav:"tpp_id"`
	Principal string    `dynamodbav:"principal"`
	Scopes    []string  `dynamodbav:"scopes"`
	Status    string    `dynamodbav:"status"`
	ExpiresAt time.Time `dynamodbav:"expires_at"`
}

func (r *Record) hasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Lookup is the port to the consent context. Get returns (nil, nil) when no
// consent exists.
type Lookup interface {
	Get(ctx context.Context, consentID string) (*Record, error)
}

// Forbidden reason codes, logged for audit; all map to the same HTTP status
// at the boundary.
const (
	ReasonConsentNotFound   = "consent_not_found"
	ReasonConsentNotActive  = "consent_not_active"
	ReasonTppMismatch       = "consent_tpp_mismatch"
	ReasonScopeMissing      = "scope_missing"
	ReasonResourceNotLinked = "resource_not_linked"
)

// ForbiddenError is returned whenever an authorization check fails.
type ForbiddenError struct {
	Reason  string
	Message string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden (%s): %s", e.Reason, e.Message)
}

// Guard validates a consent against a requested operation.
type Guard struct {
	lookup  Lookup
	nowFunc func() time.Time
}

// NewGuard returns a Guard reading through the given lookup port.
func NewGuard(lookup Lookup) *Guard {
	return &Guard{
		lookup:  lookup,
		nowFunc: time.Now,
	}
}

// Authorize runs the checks in order: consent exists and is active, consent
// belongs to the presenting TPP, consent grants the required scope. On
// success the consent record is returned for further resource checks.
func (g *Guard) Authorize(ctx context.Context, consentID, tppID, requiredScope string) (*Record, error) {
	rec, err := g.lookup.Get(ctx, consentID)
	if err != nil {
		return nil, fmt.Errorf("consent lookup: %w", err)
	}
	if rec == nil {
		return nil, &ForbiddenError{Reason: ReasonConsentNotFound, Message: "consent not found"}
	}
	if rec.Status != StatusAuthorised || !rec.ExpiresAt.After(g.nowFunc()) {
		return nil, &ForbiddenError{Reason: ReasonConsentNotActive, Message: fmt.Sprintf("consent is %s", rec.Status)}
	}
	if rec.TppID != tppID {
		return nil, &ForbiddenError{Reason: ReasonTppMismatch, Message: "consent does not belong to the presenting TPP"}
	}
	if !rec.hasScope(requiredScope) {
		return nil, &ForbiddenError{Reason: ReasonScopeMissing, Message: "required scope missing: " + requiredScope}
	}
	return rec, nil
}

// CheckResourceLink verifies that the resource being operated on was created
// under the presented consent, distinguishing "missing scope" from "resource
// not linked to consent" in audit logs.
func CheckResourceLink(presentedConsentID, resourceConsentID string) error {
	if presentedConsentID != resourceConsentID {
		return &ForbiddenError{Reason: ReasonResourceNotLinked, Message: "resource not linked to consent"}
	}
	return nil
}
