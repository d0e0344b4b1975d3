package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "exchange_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ordersPlaced    *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	ordersExpired   *prometheus.CounterVec

	tradesSettled  *prometheus.CounterVec
	tradesAborted  *prometheus.CounterVec
	tradedQuantity *prometheus.CounterVec

	settlementLatency *prometheus.HistogramVec

	bookDepth *prometheus.GaugeVec

	submissionsTotal      *prometheus.CounterVec
	verificationDecisions *prometheus.CounterVec

	lotsMinted  *prometheus.CounterVec
	lotsExpired *prometheus.CounterVec

	withdrawalResults *prometheus.CounterVec

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ordersPlaced = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "orders_placed_total",
				Help: "Total orders accepted by market and side",
			},
			[]string{"market", "side"},
		)
		ordersCancelled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "orders_cancelled_total",
				Help: "Total orders cancelled by market",
			},
			[]string{"market"},
		)
		ordersExpired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "orders_expired_total",
				Help: "Total orders expired by market and reason",
			},
			[]string{"market", "reason"},
		)

		tradesSettled = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trades_settled_total",
				Help: "Total settled trades by market",
			},
			[]string{"market"},
		)
		tradesAborted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trades_aborted_total",
				Help: "Total aborted trades by market",
			},
			[]string{"market"},
		)
		tradedQuantity = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "traded_quantity_total",
				Help: "Total credits traded by market",
			},
			[]string{"market"},
		)

		settlementLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_latency_seconds",
				Help:    "Trade settlement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		bookDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "book_depth_orders",
				Help: "Resting orders per market and side",
			},
			[]string{"market", "side"},
		)

		submissionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "verification_submissions_total",
				Help: "Total verification submissions by result",
			},
			[]string{"result"},
		)
		verificationDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "verification_decisions_total",
				Help: "Total verification decisions by outcome",
			},
			[]string{"outcome"},
		)

		lotsMinted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lots_minted_total",
				Help: "Total minted credit lots by market",
			},
			[]string{"market"},
		)
		lotsExpired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lots_expired_total",
				Help: "Total expired credit lots by market",
			},
			[]string{"market"},
		)

		withdrawalResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "withdrawal_results_total",
				Help: "Total withdrawal outcomes by status",
			},
			[]string{"status"},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ordersPlaced,
			ordersCancelled,
			ordersExpired,
			tradesSettled,
			tradesAborted,
			tradedQuantity,
			settlementLatency,
			bookDepth,
			submissionsTotal,
			verificationDecisions,
			lotsMinted,
			lotsExpired,
			withdrawalResults,
			statementExportTotal,
			statementExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveOrderPlaced increments the placed-order counter.
func ObserveOrderPlaced(market, side string) {
	if ordersPlaced != nil {
		ordersPlaced.WithLabelValues(market, side).Inc()
	}
}

// ObserveOrderCancelled increments the cancelled-order counter.
func ObserveOrderCancelled(market string) {
	if ordersCancelled != nil {
		ordersCancelled.WithLabelValues(market).Inc()
	}
}

// ObserveOrderExpired increments the expired-order counter.
func ObserveOrderExpired(market, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ordersExpired != nil {
		ordersExpired.WithLabelValues(market, reason).Inc()
	}
}

// ObserveTradeSettled records one settled trade and its quantity.
func ObserveTradeSettled(market string, quantity int64) {
	if tradesSettled != nil {
		tradesSettled.WithLabelValues(market).Inc()
	}
	if tradedQuantity != nil && quantity > 0 {
		tradedQuantity.WithLabelValues(market).Add(float64(quantity))
	}
}

// ObserveTradeAborted increments the aborted-trade counter.
func ObserveTradeAborted(market string) {
	if tradesAborted != nil {
		tradesAborted.WithLabelValues(market).Inc()
	}
}

// ObserveSettlement records settlement latency and result.
func ObserveSettlement(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if settlementLatency != nil {
		settlementLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// SetBookDepth sets the resting-order gauge for one side of a book.
func SetBookDepth(market, side string, orders int) {
	if bookDepth != nil {
		bookDepth.WithLabelValues(market, side).Set(float64(orders))
	}
}

// ObserveSubmission increments the submission counter.
func ObserveSubmission(result string) {
	if result == "" {
		result = resultSuccess
	}
	if submissionsTotal != nil {
		submissionsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveVerificationDecision increments the decision counter.
func ObserveVerificationDecision(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if verificationDecisions != nil {
		verificationDecisions.WithLabelValues(outcome).Inc()
	}
}

// ObserveLotMinted increments the minted-lot counter.
func ObserveLotMinted(market string) {
	if lotsMinted != nil {
		lotsMinted.WithLabelValues(market).Inc()
	}
}

// AddLotsExpired increments the expired-lot counter by count.
func AddLotsExpired(market string, count int) {
	if count <= 0 {
		return
	}
	if lotsExpired != nil {
		lotsExpired.WithLabelValues(market).Add(float64(count))
	}
}

// ObserveWithdrawal increments the withdrawal outcome counter.
func ObserveWithdrawal(status string) {
	if status == "" {
		status = "unknown"
	}
	if withdrawalResults != nil {
		withdrawalResults.WithLabelValues(status).Inc()
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
