package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/finflow/openfinance-engine/internal/aws"
	"github.com/finflow/openfinance-engine/internal/fx"
	"github.com/finflow/openfinance-engine/internal/handlers"
)

// defaultRates covers the corridor pairs served when FX_RATES is unset.
const defaultRates = "AED/USD=0.272294,USD/AED=3.6725,AED/EUR=0.250916,EUR/AED=3.985400,AED/GBP=0.214306,GBP/AED=4.666200"

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	rates, err := fx.ParseRateTable(aws.EnvOr("FX_RATES", defaultRates))
	if err != nil {
		log.Fatalf("invalid FX_RATES: %v", err)
	}
	ttlWindow, err := aws.EnvDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		log.Fatalf("%v", err)
	}
	quoteValidity, err := aws.EnvDuration("QUOTE_VALIDITY", 30*time.Second)
	if err != nil {
		log.Fatalf("%v", err)
	}
	maxFileBytes, err := aws.EnvInt("MAX_FILE_BYTES", 1<<20)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		CloudWatchClient: clients.CloudWatch,
		IdempotencyTable: aws.EnvOr("IDEMPOTENCY_TABLE", "idempotency"),
		ConsentsTable:    aws.EnvOr("CONSENTS_TABLE", "consents"),
		QuotesTable:      aws.EnvOr("QUOTES_TABLE", "fx-quotes"),
		DealsTable:       aws.EnvOr("DEALS_TABLE", "fx-deals"),
		MandatesTable:    aws.EnvOr("MANDATES_TABLE", "vrp-mandates"),
		PaymentsTable:    aws.EnvOr("PAYMENTS_TABLE", "vrp-payments"),
		FilesTable:       aws.EnvOr("FILES_TABLE", "bulk-files"),
		ReportsTable:     aws.EnvOr("REPORTS_TABLE", "bulk-reports"),
		QueueURL:         os.Getenv("FILES_QUEUE_URL"),
		MetricsNamespace: aws.EnvOr("METRICS_NAMESPACE", "OpenFinanceEngine"),
		TTLWindow:        ttlWindow,
		QuoteValidity:    quoteValidity,
		Rates:            rates,
		MaxFilePayload:   maxFileBytes,
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
