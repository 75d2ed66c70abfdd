package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finflow/openfinance-engine/internal/consent"
	"github.com/finflow/openfinance-engine/internal/mandate"
	"github.com/finflow/openfinance-engine/internal/money"
	"github.com/finflow/openfinance-engine/internal/validation"
)

func registerVRPRoutes(r *gin.Engine, d *deps) {
	r.POST("/vrp/mandates", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		var req validation.CreateMandateRequest
		if err := validation.BindAndValidate(c, &req, d.v); err != nil {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, req.ConsentID, tppID, consent.ScopeVRP); err != nil {
			writeError(c, err)
			return
		}
		perPayment, err := money.FromString(req.PerPaymentLimit)
		if err != nil {
			writeError(c, err)
			return
		}
		cumulative, err := money.FromString(req.CumulativeLimit)
		if err != nil {
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			m, err := d.enforcer.Register(ctx, req.ConsentID, tppID, req.Currency,
				perPayment.Decimal, cumulative.Decimal, time.Unix(req.ExpiresAt, 0))
			if err != nil {
				return 0, nil, "", err
			}
			return http.StatusCreated, mandateBody(m), m.ConsentID, nil
		})
	})

	r.POST("/vrp/mandates/:consentId/payments", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		var req validation.VrpPaymentRequest
		if err := validation.BindAndValidate(c, &req, d.v); err != nil {
			return
		}
		consentID := c.Param("consentId")
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, consentID, tppID, consent.ScopeVRP); err != nil {
			writeError(c, err)
			return
		}
		amount, err := money.FromString(req.Amount)
		if err != nil {
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			p, err := d.enforcer.AuthorizePayment(ctx, consentID, tppID, req.Currency, amount.Decimal)
			if err != nil {
				d.metrics.Count(ctx, "VrpPaymentRejected", 1, nil)
				return 0, nil, "", err
			}
			d.metrics.Count(ctx, "VrpPaymentAccepted", 1, nil)
			return http.StatusCreated, paymentBody(p), p.PaymentID, nil
		})
	})

	r.POST("/vrp/mandates/:consentId/revocation", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		consentID := c.Param("consentId")
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, consentID, tppID, consent.ScopeVRP); err != nil {
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			if err := d.enforcer.Revoke(ctx, consentID); err != nil {
				return 0, nil, "", err
			}
			return http.StatusOK, gin.H{"consentId": consentID, "status": mandate.StatusRevoked}, consentID, nil
		})
	})

	r.GET("/vrp/payments/:paymentId", func(c *gin.Context) {
		p, err := d.enforcer.GetPayment(c.Request.Context(), c.Param("paymentId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, paymentBody(p))
	})
}

func mandateBody(m *mandate.Mandate) gin.H {
	return gin.H{
		"consentId":          m.ConsentID,
		"perPaymentLimit":    m.PerPaymentLimit,
		"cumulativeLimit":    m.CumulativeLimit,
		"cumulativeConsumed": m.CumulativeConsumed,
		"currency":           m.Currency,
		"status":             m.Status,
		"expiresAt":          m.ExpiresAt,
		"createdAt":          m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func paymentBody(p *mandate.Payment) gin.H {
	return gin.H{
		"paymentId": p.PaymentID,
		"consentId": p.ConsentID,
		"amount":    p.Amount,
		"currency":  p.Currency,
		"status":    p.Status,
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
