package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finflow/openfinance-engine/internal/idempotency"
)

// replayHeader tells the caller whether this response was freshly executed
// (MISS) or served from the idempotency ledger (HIT).
const replayHeader = "X-OF-Idempotency"

// writeIdentity extracts the mandatory write headers. Returns ok=false after
// writing a 400 if either is missing.
func writeIdentity(c *gin.Context) (tppID, idemKey string, ok bool) {
	tppID = c.GetHeader("X-TPP-Id")
	idemKey = c.GetHeader("Idempotency-Key")
	if tppID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "missing X-TPP-Id header"})
		return "", "", false
	}
	if idemKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "missing Idempotency-Key header"})
		return "", "", false
	}
	return tppID, idemKey, true
}

// readIdentity extracts the mandatory read headers. Returns ok=false after
// writing a 400 if either is missing.
func readIdentity(c *gin.Context) (tppID, consentID string, ok bool) {
	tppID = c.GetHeader("X-TPP-Id")
	consentID = c.GetHeader("X-Consent-Id")
	if tppID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "missing X-TPP-Id header"})
		return "", "", false
	}
	if consentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": "missing X-Consent-Id header"})
		return "", "", false
	}
	return tppID, consentID, true
}

// rawBody reads and restores the request body so it can be both hashed and
// bound. The hash is always computed over the bytes as received.
func rawBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// effect runs the business operation once the execution slot is won. It
// returns the HTTP status and response payload to store and send, plus a
// reference to the created resource for the ledger record.
type effect func() (status int, body gin.H, resultRef string, err error)

// runIdempotent drives the full ledger flow around an effect: claim the slot,
// replay stored responses, surface conflicts, and on success persist the
// response for future replays. Side-effect-free failures release the slot so
// the client can retry with the same key.
func (d *deps) runIdempotent(c *gin.Context, tppID, idemKey string, payload []byte, run effect) {
	ctx := c.Request.Context()
	hash := idempotency.HashPayload(payload)

	begin, err := d.ledger.BeginOrReplay(ctx, tppID, idemKey, hash)
	if err != nil {
		writeError(c, err)
		return
	}

	switch begin.Outcome {
	case idempotency.OutcomeReplay:
		d.metrics.Count(ctx, "IdempotencyHit", 1, nil)
		c.Header(replayHeader, "HIT")
		c.Data(begin.Stored.ResponseStatus, "application/json", []byte(begin.Stored.ResponseBody))
		return
	case idempotency.OutcomeConflict:
		d.metrics.Count(ctx, "IdempotencyConflict", 1, nil)
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_conflict", "message": "idempotency key reused with a different request body"})
		return
	case idempotency.OutcomeInProgress:
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_in_progress", "message": "a request with this idempotency key is being processed"})
		return
	}

	d.metrics.Count(ctx, "IdempotencyMiss", 1, nil)
	status, body, resultRef, err := run()
	if err != nil {
		if relErr := d.ledger.Release(ctx, tppID, idemKey); relErr != nil {
			log.Printf("ledger release failed for tpp=%s key=%s: %v", tppID, idemKey, relErr)
		}
		writeError(c, err)
		return
	}

	responseBody, err := json.Marshal(body)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := d.ledger.Complete(ctx, tppID, idemKey, resultRef, string(responseBody), status); err != nil {
		log.Printf("ledger complete failed for tpp=%s key=%s: %v", tppID, idemKey, err)
	}
	c.Header(replayHeader, "MISS")
	c.Data(status, "application/json", responseBody)
}
