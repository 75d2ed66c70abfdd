package bulk

import (
	"time"

	"github.com/finflow/openfinance-engine/internal/money"
)

// RejectionMode selects the partial-failure policy for a submitted file.
const (
	PartialRejection = "PARTIAL_REJECTION"
	FullRejection    = "FULL_REJECTION"
)

// File statuses. PROCESSING moves forward exactly once, never back.
const (
	StatusProcessing        = "PROCESSING"
	StatusCompleted         = "COMPLETED"
	StatusPartiallyAccepted = "PARTIALLY_ACCEPTED"
	StatusRejected          = "REJECTED"
)

// Item statuses.
const (
	ItemAccepted = "ACCEPTED"
	ItemRejected = "REJECTED"
)

// File is the submission record stored in the bulk files table. Content is
// kept alongside so the worker can parse without re-fetching the upload;
// once accepted for processing the submission is immutable apart from the
// single status transition.
type File struct {
	FileID         string       `dynamodbav:"file_id"` // PK
	ConsentID      string       `dynamodbav:"consent_id"`
	TppID          string       `dynamodbav:"tpp_id"`
	CorporateID    string       `dynamodbav:"corporate_id"`
	FileName       string       `dynamodbav:"file_name"`
	FileHash       string       `dynamodbav:"file_hash"` // declared + verified at submit
	RejectionMode  string       `dynamodbav:"rejection_mode"`
	Status         string       `dynamodbav:"status"`
	FailureReason  string       `dynamodbav:"failure_reason,omitempty"` // file-level hard reject
	TotalCount     int          `dynamodbav:"total_count"`
	AcceptedCount  int          `dynamodbav:"accepted_count"`
	RejectedCount  int          `dynamodbav:"rejected_count"`
	TotalAmount    money.Amount `dynamodbav:"total_amount"`
	Content        string       `dynamodbav:"content"`
	IdempotencyKey string       `dynamodbav:"idempotency_key"`
	CreatedAt      time.Time    `dynamodbav:"created_at"`
	CompletedAt    *time.Time   `dynamodbav:"completed_at,omitempty"`
}

// Terminal reports whether processing has finished.
func (f *File) Terminal() bool {
	return f.Status != StatusProcessing
}

// ItemResult classifies one file line. ErrorMessage is set iff REJECTED.
type ItemResult struct {
	LineNumber      int          `dynamodbav:"line_number" json:"lineNumber"`
	InstructionID   string       `dynamodbav:"instruction_id" json:"instructionId"`
	PayeeIdentifier string       `dynamodbav:"payee_identifier" json:"payeeIdentifier"`
	Amount          money.Amount `dynamodbav:"amount" json:"amount"`
	Status          string       `dynamodbav:"status" json:"status"`
	ErrorMessage    string       `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
}

// Report is the immutable processing outcome. Repeated polls of the same
// file return byte-identical content, which backs the ETag contract at the
// boundary.
type Report struct {
	FileID        string       `dynamodbav:"file_id" json:"fileId"` // PK
	Status        string       `dynamodbav:"status" json:"status"`
	TotalCount    int          `dynamodbav:"total_count" json:"totalCount"`
	AcceptedCount int          `dynamodbav:"accepted_count" json:"acceptedCount"`
	RejectedCount int          `dynamodbav:"rejected_count" json:"rejectedCount"`
	Items         []ItemResult `dynamodbav:"items" json:"items"`
	GeneratedAt   time.Time    `dynamodbav:"generated_at" json:"generatedAt"`
}
