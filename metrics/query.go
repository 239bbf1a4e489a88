// Package metrics has prometheus metric variables/functions.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dabodev/dabo/mlog"
)

var (
	metricStatement = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dabo_db_statement_duration_seconds",
			Help:    "SQL statement durations by backend, kind and result.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 30},
		},
		[]string{
			"backend",
			"kind", // select, insert, update, delete, other
			"result",
		},
	)
	metricTransaction = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_db_transaction_total",
			Help: "Transactions ended, by backend and result.",
		},
		[]string{
			"backend",
			"result", // commit, rollback, error
		},
	)
	metricKeepalive = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dabo_db_keepalive_total",
			Help: "Keepalive queries sent on idle connections.",
		},
		[]string{
			"backend",
			"result", // ok, error
		},
	)
)

// Result returns a short result label for err, for use in metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// StatementObserve tracks the duration and result of an SQL statement, and logs
// the result.
func StatementObserve(ctx context.Context, log mlog.Log, backend, kind string, err error, start time.Time) {
	result := Result(err)
	metricStatement.WithLabelValues(backend, kind, result).Observe(float64(time.Since(start)) / float64(time.Second))
	log.WithContext(ctx).Debugx("statement result", err,
		slog.String("backend", backend),
		slog.String("kind", kind),
		slog.String("result", result),
		slog.Duration("duration", time.Since(start)))
}

func TransactionInc(backend, result string) {
	metricTransaction.WithLabelValues(backend, result).Inc()
}

func KeepaliveInc(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricKeepalive.WithLabelValues(backend, result).Inc()
}
