package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finflow/openfinance-engine/internal/bulk"
	"github.com/finflow/openfinance-engine/internal/consent"
	"github.com/finflow/openfinance-engine/internal/validation"
)

func registerBulkRoutes(r *gin.Engine, d *deps) {
	r.POST("/bulk/files", func(c *gin.Context) {
		tppID, idemKey, ok := writeIdentity(c)
		if !ok {
			return
		}
		payload, err := rawBody(c)
		if err != nil {
			writeError(c, err)
			return
		}
		var req validation.BulkSubmitRequest
		if err := validation.BindAndValidate(c, &req, d.v); err != nil {
			return
		}
		if d.maxFilePayload > 0 && len(req.Content) > d.maxFilePayload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "validation_failed",
				"message": fmt.Sprintf("file content exceeds %d bytes", d.maxFilePayload),
			})
			return
		}
		ctx := c.Request.Context()
		if _, err := d.guard.Authorize(ctx, req.ConsentID, tppID, consent.ScopeBulkPayment); err != nil {
			writeError(c, err)
			return
		}
		// integrity is checked synchronously; a tampered file is never stored
		if err := bulk.VerifyHash(req.Content, req.FileHash); err != nil {
			d.metrics.Count(ctx, "BulkIntegrityFailure", 1, nil)
			writeError(c, err)
			return
		}

		d.runIdempotent(c, tppID, idemKey, payload, func() (int, gin.H, string, error) {
			file := &bulk.File{
				FileID:         "FILE-BULK-" + uuid.NewString(),
				ConsentID:      req.ConsentID,
				TppID:          tppID,
				CorporateID:    req.CorporateID,
				FileName:       req.FileName,
				FileHash:       req.FileHash,
				RejectionMode:  req.RejectionMode,
				Status:         bulk.StatusProcessing,
				Content:        req.Content,
				IdempotencyKey: idemKey,
				CreatedAt:      time.Now().UTC(),
			}
			if err := d.files.Create(ctx, file); err != nil {
				return 0, nil, "", err
			}

			msg, _ := json.Marshal(map[string]string{
				"file_id":         file.FileID,
				"tpp_id":          tppID,
				"idempotency_key": idemKey,
				"correlation_id":  c.GetHeader("X-Request-Id"),
			})
			attrs := map[string]string{
				"file_id":         file.FileID,
				"idempotency_key": idemKey,
			}
			if err := d.queue.SendFileMessage(ctx, string(msg), attrs); err != nil {
				return 0, nil, "", fmt.Errorf("enqueue file: %w", err)
			}

			c.Header("Location", "/bulk/files/"+file.FileID)
			body := gin.H{"fileId": file.FileID, "status": bulk.StatusProcessing}
			return http.StatusAccepted, body, file.FileID, nil
		})
	})

	r.GET("/bulk/files/:fileId", func(c *gin.Context) {
		file, err := d.files.Get(c.Request.Context(), c.Param("fileId"))
		if err != nil {
			writeError(c, err)
			return
		}
		if file == nil {
			writeNotFound(c, "file not found")
			return
		}
		if !ensureFileAccess(c, file) {
			return
		}
		body := gin.H{
			"fileId":        file.FileID,
			"fileName":      file.FileName,
			"rejectionMode": file.RejectionMode,
			"status":        file.Status,
			"createdAt":     file.CreatedAt.UTC().Format(time.RFC3339),
		}
		if file.Terminal() {
			body["totalCount"] = file.TotalCount
			body["acceptedCount"] = file.AcceptedCount
			body["rejectedCount"] = file.RejectedCount
			if file.FailureReason != "" {
				body["failureReason"] = file.FailureReason
			}
			if file.CompletedAt != nil {
				body["completedAt"] = file.CompletedAt.UTC().Format(time.RFC3339)
			}
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/bulk/files/:fileId/report", func(c *gin.Context) {
		ctx := c.Request.Context()
		fileID := c.Param("fileId")
		file, err := d.files.Get(ctx, fileID)
		if err != nil {
			writeError(c, err)
			return
		}
		if file == nil {
			writeNotFound(c, "file not found")
			return
		}
		if !ensureFileAccess(c, file) {
			return
		}
		report, err := d.reports.Get(ctx, fileID)
		if err != nil {
			writeError(c, err)
			return
		}
		if report == nil {
			c.JSON(http.StatusAccepted, gin.H{"fileId": fileID, "status": file.Status})
			return
		}
		serveReport(c, report)
	})
}

// ensureFileAccess rejects reads of a file submitted by a different TPP or
// under a different consent. Writes a 400 or 403 and returns false on any
// failed check.
func ensureFileAccess(c *gin.Context, file *bulk.File) bool {
	tppID, consentID, ok := readIdentity(c)
	if !ok {
		return false
	}
	if file.TppID != tppID {
		writeError(c, &consent.ForbiddenError{
			Reason:  consent.ReasonTppMismatch,
			Message: "file does not belong to the presenting TPP",
		})
		return false
	}
	if err := consent.CheckResourceLink(consentID, file.ConsentID); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// serveReport writes the immutable report with a strong ETag; repeated polls
// with If-None-Match short-circuit to 304.
func serveReport(c *gin.Context, report *bulk.Report) {
	raw, err := json.Marshal(report)
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
