package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"credit-exchange/internal/audit"
	"credit-exchange/internal/auth"
	"credit-exchange/internal/eventing"
	"credit-exchange/internal/eventing/eventbus"
	eventingmem "credit-exchange/internal/eventing/infrastructure/memory"
	eventingrepo "credit-exchange/internal/eventing/infrastructure/postgres"
	exchangeapp "credit-exchange/internal/exchange/application"
	exchange "credit-exchange/internal/exchange/domain"
	exchangemem "credit-exchange/internal/exchange/infrastructure/memory"
	exchangerepo "credit-exchange/internal/exchange/infrastructure/postgres"
	exchangehttp "credit-exchange/internal/exchange/interfaces/http"
	ledgerapp "credit-exchange/internal/ledger/application"
	ledger "credit-exchange/internal/ledger/domain"
	ledgermem "credit-exchange/internal/ledger/infrastructure/memory"
	ledgerrepo "credit-exchange/internal/ledger/infrastructure/postgres"
	ledgerhttp "credit-exchange/internal/ledger/interfaces/http"
	"credit-exchange/internal/notifier"
	"credit-exchange/internal/observability/metrics"
	settlementapp "credit-exchange/internal/settlement/application"
	"credit-exchange/internal/statements"
	verificationapp "credit-exchange/internal/verification/application"
	verification "credit-exchange/internal/verification/domain"
	verificationmem "credit-exchange/internal/verification/infrastructure/memory"
	verificationrepo "credit-exchange/internal/verification/infrastructure/postgres"
	verificationhttp "credit-exchange/internal/verification/interfaces/http"
	withdrawalapp "credit-exchange/internal/withdrawal/application"
	withdrawal "credit-exchange/internal/withdrawal/domain"
	withdrawalmem "credit-exchange/internal/withdrawal/infrastructure/memory"
	withdrawalrepo "credit-exchange/internal/withdrawal/infrastructure/postgres"
	withdrawalhttp "credit-exchange/internal/withdrawal/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	clock := systemClock{}

	marketsCfg, err := exchangeapp.LoadMarketsConfig()
	if err != nil {
		logger.Fatalf("markets config error: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	} else {
		logger.Printf("no DATABASE_URL set, using in-memory stores")
	}
	metrics.Init(db, logger)

	var auditLogger audit.Logger
	var auditRepo *audit.Repository
	if db != nil {
		auditRepo = audit.NewRepository(db)
		auditLogger = auditRepo
	}

	// Eventing: durable outbox, idempotent consumers, dead letter queue.
	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(ledgerapp.LotMinted{})
	registry.Register(ledgerapp.LotsExpired{})
	registry.Register(exchangeapp.OrderPlaced{})
	registry.Register(exchangeapp.OrderFilled{})
	registry.Register(exchangeapp.OrderCancelled{})
	registry.Register(exchangeapp.OrderExpired{})
	registry.Register(settlementapp.TradeSettled{})
	registry.Register(settlementapp.TradeAborted{})
	registry.Register(verificationapp.SubmissionReceived{})
	registry.Register(verificationapp.SubmissionVerified{})
	registry.Register(verificationapp.SubmissionRejected{})
	registry.Register(withdrawalapp.WithdrawalRequested{})
	registry.Register(withdrawalapp.WithdrawalSettled{})

	var outboxStore eventing.OutboxStore
	var outboxWriter eventing.OutboxWriter
	var dlqStore eventing.DLQStore
	var processedStore eventing.ProcessedStore
	if db != nil {
		store := eventingrepo.NewOutboxStore(db)
		outboxStore, outboxWriter = store, store
		dlqStore = eventingrepo.NewDLQStore(db)
		processedStore = eventingrepo.NewProcessedStore(db)
	} else {
		store := eventingmem.NewOutboxStore()
		outboxStore, outboxWriter = store, store
		dlqStore = eventingmem.NewDLQStore()
		processedStore = eventingmem.NewProcessedStore()
	}
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxWriter, dispatcher, baseBus)
	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 0); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[settlementapp.TradeSettled](), "settlement.log", func(ctx context.Context, event any) error {
		evt, ok := event.(settlementapp.TradeSettled)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("trade settled: trade=%s market=%s qty=%d price=%s", evt.TradeID, evt.CreditType, evt.Quantity, evt.Price)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[settlementapp.TradeAborted](), "settlement.abort.log", func(ctx context.Context, event any) error {
		evt, ok := event.(settlementapp.TradeAborted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("trade aborted: trade=%s market=%s reason=%s", evt.TradeID, evt.CreditType, evt.Reason)
		return nil
	}, processedStore)

	broker := notifier.NewBroker()
	broker.Attach(baseBus)

	// Ledger.
	var ledgerStore ledger.Store
	if db != nil {
		ledgerStore = ledgerrepo.NewStore(db)
	} else {
		ledgerStore = ledgermem.NewStore()
	}
	ledgerService, err := ledgerapp.NewService(ledgerStore, publisher, clock, logger)
	if err != nil {
		logger.Fatalf("ledger service error: %v", err)
	}

	// Settlement.
	coordinator, err := settlementapp.NewCoordinator(ledgerStore, publisher, clock, logger)
	if err != nil {
		logger.Fatalf("settlement coordinator error: %v", err)
	}

	// Exchange: one matching worker per credit type.
	var orderRepo exchange.OrderRepository
	if db != nil {
		orderRepo = exchangerepo.NewOrderRepository(db)
	} else {
		orderRepo = exchangemem.NewOrderRepository()
	}
	manager, err := exchangeapp.NewManager(marketsCfg, exchangeapp.MarketDeps{
		Orders:  orderRepo,
		Ledger:  ledgerService,
		Settler: coordinator,
		Bus:     publisher,
		Clock:   clock,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("market manager error: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		logger.Fatalf("market start error: %v", err)
	}
	defer manager.Stop()

	// Verification.
	var submissionRepo verification.SubmissionRepository
	if db != nil {
		submissionRepo = verificationrepo.NewSubmissionRepository(db)
	} else {
		submissionRepo = verificationmem.NewSubmissionRepository()
	}
	verificationService, err := verificationapp.NewService(submissionRepo, ledgerService, publisher, clock, logger, verificationapp.Config{
		CreditValidity: marketsCfg.CreditValidity,
		StaleAfter:     marketsCfg.StaleAfter,
	})
	if err != nil {
		logger.Fatalf("verification service error: %v", err)
	}

	// Withdrawals.
	var withdrawalRepo withdrawal.Repository
	if db != nil {
		withdrawalRepo = withdrawalrepo.NewRepository(db)
	} else {
		withdrawalRepo = withdrawalmem.NewRepository()
	}
	withdrawalService, err := withdrawalapp.NewService(withdrawalRepo, ledgerService, publisher, clock, logger)
	if err != nil {
		logger.Fatalf("withdrawal service error: %v", err)
	}

	// Statements and exports.
	statementService, err := statements.NewService(ledgerStore)
	if err != nil {
		logger.Fatalf("statement service error: %v", err)
	}

	ledgerHandler, err := ledgerhttp.NewHandler(ledgerService, auditLogger)
	if err != nil {
		logger.Fatalf("ledger handler error: %v", err)
	}
	exchangeHandler, err := exchangehttp.NewHandler(manager, auditLogger)
	if err != nil {
		logger.Fatalf("exchange handler error: %v", err)
	}
	verificationHandler, err := verificationhttp.NewHandler(verificationService, auditLogger)
	if err != nil {
		logger.Fatalf("verification handler error: %v", err)
	}
	withdrawalHandler, err := withdrawalhttp.NewHandler(withdrawalService, cfg.CallbackSecret, auditLogger)
	if err != nil {
		logger.Fatalf("withdrawal handler error: %v", err)
	}
	statementHandler, err := statements.NewHandler(statementService)
	if err != nil {
		logger.Fatalf("statement handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/callbacks/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/accounts/balance", ledgerHandler)
	mux.Handle("/api/v1/accounts/lots", ledgerHandler)
	mux.Handle("/api/v1/accounts/deposit", ledgerHandler)
	mux.Handle("/api/v1/trades", ledgerHandler)
	mux.Handle("/api/v1/orders", exchangeHandler)
	mux.Handle("/api/v1/orders/cancel", exchangeHandler)
	mux.Handle("/api/v1/book", exchangeHandler)
	mux.Handle("/api/v1/submissions", verificationHandler)
	mux.Handle("/api/v1/submissions/decide", verificationHandler)
	mux.Handle("/api/v1/submissions/stale", verificationHandler)
	mux.Handle("/api/v1/withdrawals", withdrawalHandler)
	mux.Handle("/callbacks/payments", withdrawalHandler)
	mux.Handle("/api/v1/exports/trades.csv", statementHandler)
	mux.Handle("/api/v1/statements/monthly", statementHandler)
	mux.Handle("/api/v1/events/stream", notifier.NewStreamHandler(broker))
	if auditRepo != nil {
		if auditHandler, err := audit.NewHandler(auditRepo); err == nil {
			mux.Handle("/api/v1/audit", auditHandler)
		}
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s, markets=%v", cfg.HTTPAddr, marketsCfg.Markets)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL      string
	HTTPAddr         string
	JWTSecret        string
	CallbackSecret   string
	DispatchInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:        getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		CallbackSecret:   getenvDefault("PAYMENT_CALLBACK_SECRET", ""),
		DispatchInterval: getenvDuration("OUTBOX_DISPATCH_INTERVAL", time.Second),
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	if cfg.CallbackSecret == "" {
		log.Fatal("PAYMENT_CALLBACK_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the middleware chain.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
