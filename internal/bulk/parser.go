package bulk

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finflow/openfinance-engine/internal/money"
)

// expectedHeader is the mandatory first line of every bulk payment file.
const expectedHeader = "instruction_id,payee_iban,amount"

// File-level hard rejects. Neither produces item results: an integrity
// failure is detected before any line is read, a schema failure aborts the
// whole file.
var (
	ErrIntegrityFailure = errors.New("declared file hash does not match content")
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrEmptyPayload     = errors.New("empty payload")
)

// ItemValidator applies per-line business rules. A non-nil error rejects the
// item with the error text as its message; it never hard-rejects the file.
type ItemValidator interface {
	Validate(instructionID, payeeIdentifier string, amount decimal.Decimal) error
}

// VerifyHash recomputes the content hash (base64url-unpadded SHA-256) and
// compares it with the declared one. The engine never trusts the declared
// hash alone.
func VerifyHash(content, declaredHash string) error {
	sum := sha256.Sum256([]byte(content))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	if computed != declaredHash {
		return ErrIntegrityFailure
	}
	return nil
}

// Parsed holds the classified lines of a structurally valid file.
type Parsed struct {
	Items         []ItemResult
	AcceptedCount int
	RejectedCount int
	TotalAmount   money.Amount
}

// TotalCount is the number of logical (non-blank) data lines.
func (p *Parsed) TotalCount() int {
	return p.AcceptedCount + p.RejectedCount
}

// Parse validates the file structure and classifies each line through the
// item validator. Structural problems (bad header, wrong column count, blank
// fields, unparseable or non-positive amounts, no data lines) are file-level
// ErrSchemaValidation; only business-rule failures become REJECTED items.
func Parse(content string, validator ItemValidator) (*Parsed, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, ErrEmptyPayload
	}
	if strings.ToLower(strings.TrimSpace(lines[0])) != expectedHeader {
		return nil, fmt.Errorf("%w: bad header", ErrSchemaValidation)
	}

	parsed := &Parsed{TotalAmount: money.Zero()}
	logicalLine := 0
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		logicalLine++

		columns := strings.Split(line, ",")
		if len(columns) != 3 {
			return nil, fmt.Errorf("%w: line %d has %d columns", ErrSchemaValidation, logicalLine, len(columns))
		}
		instructionID := strings.TrimSpace(columns[0])
		payee := strings.TrimSpace(columns[1])
		amountRaw := strings.TrimSpace(columns[2])
		if instructionID == "" || payee == "" || amountRaw == "" {
			return nil, fmt.Errorf("%w: line %d has blank fields", ErrSchemaValidation, logicalLine)
		}

		amount, err := decimal.NewFromString(amountRaw)
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("%w: line %d amount %q", ErrSchemaValidation, logicalLine, amountRaw)
		}
		parsed.TotalAmount = money.FromDecimal(parsed.TotalAmount.Add(amount))

		item := ItemResult{
			LineNumber:      logicalLine,
			InstructionID:   instructionID,
			PayeeIdentifier: payee,
			Amount:          money.FromDecimal(amount),
		}
		if verr := validator.Validate(instructionID, payee, amount); verr != nil {
			item.Status = ItemRejected
			item.ErrorMessage = verr.Error()
			parsed.RejectedCount++
		} else {
			item.Status = ItemAccepted
			parsed.AcceptedCount++
		}
		parsed.Items = append(parsed.Items, item)
	}

	if parsed.TotalCount() == 0 {
		return nil, ErrEmptyPayload
	}
	return parsed, nil
}

// IBANValidator is the default item validator: a plausibility check on the
// payee IBAN (two letters, two digits, alphanumeric, 15-34 chars).
type IBANValidator struct{}

// Validate implements ItemValidator.
func (IBANValidator) Validate(instructionID, payeeIdentifier string, amount decimal.Decimal) error {
	if !isLikelyIBAN(payeeIdentifier) {
		return errors.New("Invalid IBAN")
	}
	return nil
}

func isLikelyIBAN(value string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if len(normalized) < 15 || len(normalized) > 34 {
		return false
	}
	if !isLetter(normalized[0]) || !isLetter(normalized[1]) {
		return false
	}
	if !isDigit(normalized[2]) || !isDigit(normalized[3]) {
		return false
	}
	for i := 0; i < len(normalized); i++ {
		if !isLetter(normalized[i]) && !isDigit(normalized[i]) {
			return false
		}
	}
	return true
}

func isLetter(b byte) bool { return b >= 'A' && b <= 'Z' }
func isDigit(b byte) bool  { return b >= '0' && b <= '9' }
