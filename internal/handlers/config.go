package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/finflow/openfinance-engine/internal/aws"
	"github.com/finflow/openfinance-engine/internal/bulk"
	"github.com/finflow/openfinance-engine/internal/consent"
	"github.com/finflow/openfinance-engine/internal/fx"
	"github.com/finflow/openfinance-engine/internal/idempotency"
	"github.com/finflow/openfinance-engine/internal/mandate"
	"github.com/finflow/openfinance-engine/internal/validation"

	validatorv10 "github.com/go-playground/validator/v10"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI

	IdempotencyTable string
	ConsentsTable    string
	QuotesTable      string
	DealsTable       string
	MandatesTable    string
	PaymentsTable    string
	FilesTable       string
	ReportsTable     string

	QueueURL         string
	MetricsNamespace string

	TTLWindow      time.Duration
	QuoteValidity  time.Duration
	Rates          map[string]decimal.Decimal
	MaxFilePayload int
}

// deps is the wired dependency set shared by the route groups.
type deps struct {
	v        *validatorv10.Validate
	ledger   *idempotency.Ledger
	guard    *consent.Guard
	fxEngine *fx.Engine
	enforcer *mandate.Enforcer
	files    *bulk.FileStore
	reports  *bulk.ReportStore
	queue    *aws.Publisher
	metrics  *aws.MetricsEmitter

	maxFilePayload int
}

// RegisterRoutes wires all API routes onto the router.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	d := &deps{
		v:              validation.New(),
		ledger:         idempotency.NewLedger(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow),
		guard:          consent.NewGuard(consent.NewDynamoLookup(cfg.DynamoDBClient, cfg.ConsentsTable)),
		enforcer:       mandate.NewEnforcer(mandate.NewStore(cfg.DynamoDBClient, cfg.MandatesTable, cfg.PaymentsTable)),
		files:          bulk.NewFileStore(cfg.DynamoDBClient, cfg.FilesTable),
		reports:        bulk.NewReportStore(cfg.DynamoDBClient, cfg.ReportsTable),
		queue:          aws.NewPublisher(cfg.SQSClient, cfg.QueueURL),
		metrics:        aws.NewMetricsEmitter(cfg.CloudWatchClient, cfg.MetricsNamespace),
		maxFilePayload: cfg.MaxFilePayload,
	}
	d.fxEngine = fx.NewEngine(
		fx.NewQuoteStore(cfg.DynamoDBClient, cfg.QuotesTable),
		fx.NewDealStore(cfg.DynamoDBClient, cfg.DealsTable),
		fx.NewStaticRateSource(cfg.Rates),
		fx.Settings{QuoteValidity: cfg.QuoteValidity, RatePrecision: 6},
	)

	registerFXRoutes(r, d)
	registerVRPRoutes(r, d)
	registerBulkRoutes(r, d)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
