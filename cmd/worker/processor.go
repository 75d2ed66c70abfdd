package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/finflow/openfinance-engine/internal/aws"
	"github.com/finflow/openfinance-engine/internal/bulk"
)

// Processor consumes file-submission messages and drives each file from
// PROCESSING to its terminal status with an immutable report.
type Processor struct {
	files     *bulk.FileStore
	reports   *bulk.ReportStore
	validator bulk.ItemValidator
	metrics   *aws.MetricsEmitter
	nowFunc   func() time.Time
}

// NewProcessor wires the worker over the bulk stores.
func NewProcessor(clients *aws.AWSClients, filesTable, reportsTable, metricsNamespace string) *Processor {
	return &Processor{
		files:     bulk.NewFileStore(clients.DynamoDB, filesTable),
		reports:   bulk.NewReportStore(clients.DynamoDB, reportsTable),
		validator: bulk.IBANValidator{},
		metrics:   aws.NewMetricsEmitter(clients.CloudWatch, metricsNamespace),
		nowFunc:   time.Now,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry, then DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg WorkMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] received file=%s tpp=%s corr=%s", msg.FileID, msg.TppID, msg.CorrelationID)

	file, err := p.files.Get(ctx, msg.FileID)
	if err != nil {
		return fmt.Errorf("fetch file: %w", err)
	}
	if file == nil {
		// Should never happen once the API stored the file; DLQ if it does.
		return fmt.Errorf("file not found: %s", msg.FileID)
	}
	if file.Terminal() {
		// Duplicate delivery after a completed run; the report already exists.
		log.Printf("[worker] file=%s already %s, skipping", file.FileID, file.Status)
		return nil
	}

	partition, failureReason := p.classify(file)
	report := bulk.BuildReport(file.FileID, partition, p.nowFunc().UTC())

	// Report first, then the status flip. If we crash between the two, the
	// retry sees PROCESSING, rebuilds the same partition and the write-once
	// report put is a no-op.
	if err := p.reports.Create(ctx, report); err != nil {
		return fmt.Errorf("store report for %s: %w", file.FileID, err)
	}
	if err := p.files.Finish(ctx, file.FileID, partition, failureReason); err != nil {
		if errors.Is(err, bulk.ErrStatusMismatch) {
			log.Printf("[worker] file=%s finalized by another worker", file.FileID)
			return nil
		}
		return fmt.Errorf("finish file %s: %w", file.FileID, err)
	}

	p.metrics.Count(ctx, "BulkItemsAccepted", float64(partition.AcceptedCount), nil)
	p.metrics.Count(ctx, "BulkItemsRejected", float64(partition.RejectedCount), nil)
	log.Printf("[worker] completed file=%s status=%s accepted=%d rejected=%d",
		file.FileID, partition.Status, partition.AcceptedCount, partition.RejectedCount)
	return nil
}

// classify parses and partitions the file content. Schema-level failures
// collapse to an empty REJECTED partition with the reason recorded on the
// file record.
func (p *Processor) classify(file *bulk.File) (*bulk.Partitioned, string) {
	parsed, err := bulk.Parse(file.Content, p.validator)
	if err != nil {
		return bulk.SchemaFailure(), err.Error()
	}
	return bulk.Partition(parsed, file.RejectionMode), ""
}
