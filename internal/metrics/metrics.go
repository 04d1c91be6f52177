// Package metrics defines the service's Prometheus instruments and serves
// them on /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bowerhall/tally/internal/logger"
)

var (
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_oracle_calls_total",
		Help: "Oracle calls by outcome (ok, unavailable, malformed)",
	}, []string{"outcome"})

	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_oracle_call_duration_seconds",
		Help:    "Latency of a single oracle attempt",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	IntakeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_intake_total",
		Help: "Inbound units by path and decision",
	}, []string{"path", "decision"})

	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_points_awarded_total",
		Help: "Sum of positive scores applied to habits",
	})

	ReviewCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_review_cycles_total",
		Help: "Review cycles by result",
	}, []string{"result"})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_reminders_sent_total",
		Help: "Reminder messages delivered by the review job",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_webhook_deliveries_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
