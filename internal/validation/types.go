package validation

// QuoteRequest is the payload for POST /fx/quotes.
type QuoteRequest struct {
	ConsentID    string `json:"consentId" validate:"required"`
	CurrencyPair string `json:"currencyPair" validate:"required"` // BASE/QUOTE, checked at struct level
	SourceAmount string `json:"sourceAmount" validate:"required"` // positive decimal, max 2 dp
}

// BookDealRequest is the payload for POST /fx/deals.
type BookDealRequest struct {
	ConsentID string `json:"consentId" validate:"required"`
	QuoteID   string `json:"quoteId" validate:"required"`
}

// CreateMandateRequest is the payload for POST /vrp/mandates.
type CreateMandateRequest struct {
	ConsentID       string `json:"consentId" validate:"required"`
	PerPaymentLimit string `json:"perPaymentLimit" validate:"required"`
	CumulativeLimit string `json:"cumulativeLimit" validate:"required"`
	Currency        string `json:"currency" validate:"required,len=3,alpha"`
	ExpiresAt       int64  `json:"expiresAt" validate:"required,gt=0"` // epoch seconds
}

// VrpPaymentRequest is the payload for POST /vrp/mandates/:consentId/payments.
type VrpPaymentRequest struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
}

// BulkSubmitRequest is the payload for POST /bulk/files.
type BulkSubmitRequest struct {
	ConsentID     string `json:"consentId" validate:"required"`
	CorporateID   string `json:"corporateId" validate:"required"`
	FileName      string `json:"fileName" validate:"required"`
	FileHash      string `json:"fileHash" validate:"required"`
	RejectionMode string `json:"rejectionMode" validate:"required,oneof=PARTIAL_REJECTION FULL_REJECTION"`
	Content       string `json:"content" validate:"required"`
}
