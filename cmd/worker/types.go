package main

// WorkMessage is the payload sent from API -> SQS -> Worker for one
// submitted bulk file.
type WorkMessage struct {
	FileID         string `json:"file_id"`
	TppID          string `json:"tpp_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}
