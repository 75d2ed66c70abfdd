package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finflow/openfinance-engine/internal/consent"
	"github.com/finflow/openfinance-engine/internal/fx"
	"github.com/finflow/openfinance-engine/internal/money"
	"github.com/finflow/openfinance-engine/internal/validation"
)

func registerFXRoutes(r *gin.Engine, d *deps) {
	r.POST("/fx/quotes", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		var req validation.QuoteRequest
		if err := validation.BindAndValidate(c, &req, d.v); err != nil {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, req.ConsentID, tppID, consent.ScopeFXBooking); err != nil {
			writeError(c, err)
			return
		}
		amount, err := money.FromString(req.SourceAmount)
		if err != nil {
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			quote, err := d.fxEngine.Quote(ctx, req.CurrencyPair, amount.Decimal)
			if err != nil {
				return 0, nil, "", err
			}
			return http.StatusCreated, quoteBody(quote), quote.QuoteID, nil
		})
	})

	r.GET("/fx/quotes/:quoteId", func(c *gin.Context) {
		quote, err := d.fxEngine.GetQuote(c.Request.Context(), c.Param("quoteId"))
		if err != nil {
			writeError(c, err)
			return
		}
		body := quoteBody(quote)
		// terminal quotes are immutable so their representation is cacheable
		if quote.Terminal() {
			serveWithETag(c, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})

	r.POST("/fx/deals", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		var req validation.BookDealRequest
		if err := validation.BindAndValidate(c, &req, d.v); err != nil {
			return
		}
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, req.ConsentID, tppID, consent.ScopeFXBooking); err != nil {
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			deal, err := d.fxEngine.Book(ctx, req.QuoteID)
			if err != nil {
				d.metrics.Count(ctx, "BookingLost", 1, nil)
				return 0, nil, "", err
			}
			d.metrics.Count(ctx, "BookingWon", 1, nil)
			return http.StatusCreated, dealBody(deal), deal.DealID, nil
		})
	})

	r.GET("/fx/deals/:dealId", func(c *gin.Context) {
		deal, err := d.fxEngine.GetDeal(c.Request.Context(), c.Param("dealId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, dealBody(deal))
	})
}

func quoteBody(q *fx.Quote) gin.H {
	return gin.H{
		"quoteId":      q.QuoteID,
		"currencyPair": q.CurrencyPair,
		"rate":         q.Rate,
		"sourceAmount": q.SourceAmount,
		"targetAmount": q.TargetAmount,
		"validUntil":   q.ValidUntil,
		"version":      q.Version,
		"status":       q.Status,
		"createdAt":    q.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func dealBody(dl *fx.Deal) gin.H {
	return gin.H{
		"dealId":           dl.DealID,
		"quoteId":          dl.QuoteID,
		"bookedRate":       dl.BookedRate,
		"sourceAmount":     dl.SourceAmount,
		"targetAmount":     dl.TargetAmount,
		"settlementStatus": dl.SettlementStatus,
		"bookedAt":         dl.BookedAt.UTC().Format(time.RFC3339),
	}
}

// serveWithETag writes body with a strong ETag and honors If-None-Match.
func serveWithETag(c *gin.Context, body gin.H) {
	raw, err := json.Marshal(body)
	if err != nil {
		writeError(c, err)
		return
	}
	etag := strongETag(raw)
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}
