package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finflow/openfinance-engine/internal/bulk"
	"github.com/finflow/openfinance-engine/internal/consent"
	"github.com/finflow/openfinance-engine/internal/fx"
	"github.com/finflow/openfinance-engine/internal/mandate"
)

// writeError maps a domain error onto the {error, message} contract. Every
// failure the engine can produce has a stable machine code.
func writeError(c *gin.Context, err error) {
	var forbidden *consent.ForbiddenError
	if errors.As(err, &forbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": forbidden.Message})
		return
	}
	var limit *mandate.LimitError
	if errors.As(err, &limit) {
		code := "limit_exceeded_per_payment"
		if limit.Kind == mandate.LimitCumulative {
			code = "limit_exceeded_cumulative"
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": code, "message": err.Error()})
		return
	}

	switch {
	case errors.Is(err, fx.ErrQuoteNotFound),
		errors.Is(err, fx.ErrDealNotFound),
		errors.Is(err, mandate.ErrMandateNotFound),
		errors.Is(err, mandate.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, fx.ErrQuoteExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "quote_expired", "message": err.Error()})
	case errors.Is(err, fx.ErrAlreadyBooked):
		c.JSON(http.StatusConflict, gin.H{"error": "already_booked", "message": err.Error()})
	case errors.Is(err, fx.ErrRateUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "message": err.Error()})
	case errors.Is(err, mandate.ErrMandateNotActive):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, mandate.ErrCurrencyMismatch),
		errors.Is(err, mandate.ErrNonPositiveAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
	case errors.Is(err, bulk.ErrIntegrityFailure):
		c.JSON(http.StatusBadRequest, gin.H{"error": "integrity_failure", "message": err.Error()})
	case errors.Is(err, bulk.ErrSchemaValidation), errors.Is(err, bulk.ErrEmptyPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema_validation_failed", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}

// writeNotFound is for resources looked up by id outside the error flow.
func writeNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": message})
}
