package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with the struct-level checks that tag
// validation cannot express (decimal amount parsing, currency-pair shape,
// limit consistency).
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(quoteStructValidation, QuoteRequest{})
	v.RegisterStructValidation(mandateStructValidation, CreateMandateRequest{})
	v.RegisterStructValidation(vrpPaymentStructValidation, VrpPaymentRequest{})

	return v
}

func quoteStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(QuoteRequest)

	if !isCurrencyPair(req.CurrencyPair) {
		sl.ReportError(req.CurrencyPair, "currencyPair", "CurrencyPair", "currency_pair", "")
	}
	if !isPositiveAmount(req.SourceAmount) {
		sl.ReportError(req.SourceAmount, "sourceAmount", "SourceAmount", "positive_amount", "")
	}
}

func mandateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateMandateRequest)

	per, perErr := decimal.NewFromString(req.PerPaymentLimit)
	cum, cumErr := decimal.NewFromString(req.CumulativeLimit)
	if perErr != nil || !per.IsPositive() || per.Exponent() < -2 {
		sl.ReportError(req.PerPaymentLimit, "perPaymentLimit", "PerPaymentLimit", "positive_amount", "")
		return
	}
	if cumErr != nil || !cum.IsPositive() || cum.Exponent() < -2 {
		sl.ReportError(req.CumulativeLimit, "cumulativeLimit", "CumulativeLimit", "positive_amount", "")
		return
	}
	if cum.LessThan(per) {
		sl.ReportError(req.CumulativeLimit, "cumulativeLimit", "CumulativeLimit", "cumulative_gte_per_payment", "")
	}
}

func vrpPaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(VrpPaymentRequest)

	if !isPositiveAmount(req.Amount) {
		sl.ReportError(req.Amount, "amount", "Amount", "positive_amount", "")
	}
}

// isCurrencyPair accepts BASE/QUOTE with two distinct 3-letter uppercase codes.
func isCurrencyPair(pair string) bool {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 {
		return false
	}
	if !isCurrencyCode(parts[0]) || !isCurrencyCode(parts[1]) {
		return false
	}
	return parts[0] != parts[1]
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// isPositiveAmount accepts a decimal string > 0 with at most 2 decimal places.
func isPositiveAmount(raw string) bool {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return false
	}
	return amount.IsPositive() && amount.Exponent() >= -2
}
