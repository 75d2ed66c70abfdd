package idempotency

import "time"

// Status values for ledger records
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// Record is the shape persisted in the idempotency DynamoDB table.
// The partition key is tpp_id#idempotency_key: a key is unique per TPP,
// never globally.
type Record struct {
	RecordKey      string    `dynamodbav:"record_key"` // PK: tppID + "#" + key
	TppID          string    `dynamodbav:"tpp_id"`
	IdempotencyKey string    `dynamodbav:"idempotency_key"`
	RequestHash    string    `dynamodbav:"request_hash"` // immutable once recorded
	Status         string    `dynamodbav:"status"`
	ResultRef      string    `dynamodbav:"result_ref,omitempty"`      // id of the created resource
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Outcome of BeginOrReplay.
type Outcome int

const (
	// OutcomeNew means the caller won the execution slot and must run the
	// effect, then call Complete (or Release on failure).
	OutcomeNew Outcome = iota
	// OutcomeReplay means a completed record with the same request hash
	// exists; the caller must return Stored verbatim without re-executing.
	OutcomeReplay
	// OutcomeConflict means a live record with a different request hash
	// exists for this key.
	OutcomeConflict
	// OutcomeInProgress means another caller holds the execution slot.
	OutcomeInProgress
)

// BeginResult carries the outcome and, on replay, the stored record.
type BeginResult struct {
	Outcome Outcome
	Stored  *Record
}
