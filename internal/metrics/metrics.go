// Package metrics exposes Prometheus collectors for the economy engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	claims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "leases",
			Name:      "claims_total",
			Help:      "Total number of successful yield claims.",
		},
	)

	claimYield = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "leases",
			Name:      "claim_yield_total",
			Help:      "Total WCoin credited by yield claims.",
		},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "leases",
			Name:      "purchases_total",
			Help:      "Total machine purchases, by payment method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	ordersResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "orders",
			Name:      "resolved_total",
			Help:      "Total orders resolved by admins, by kind and decision.",
		},
		[]string{"kind", "decision"},
	)

	withdrawRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "orders",
			Name:      "withdraw_requests_total",
			Help:      "Total withdrawal orders accepted into the queue.",
		},
	)

	referralCredits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wcoin",
			Subsystem: "referrals",
			Name:      "credits_total",
			Help:      "Total referral join bonuses paid out.",
		},
	)
)

func init() {
	Registry.MustRegister(
		claims,
		claimYield,
		purchases,
		ordersResolved,
		withdrawRequests,
		referralCredits,
	)
}

// ObserveClaim records a successful claim and its credited yield.
func ObserveClaim(yield int64) {
	claims.Inc()
	claimYield.Add(float64(yield))
}

// ObservePurchase records a machine purchase attempt outcome.
// outcome is "installed" or "order_created".
func ObservePurchase(method, outcome string) {
	purchases.WithLabelValues(method, outcome).Inc()
}

// ObserveOrderResolved records an admin order resolution.
func ObserveOrderResolved(kind, decision string) {
	ordersResolved.WithLabelValues(kind, decision).Inc()
}

// ObserveWithdrawRequest records an accepted withdrawal request.
func ObserveWithdrawRequest() {
	withdrawRequests.Inc()
}

// ObserveReferralCredit records a paid-out referral bonus.
func ObserveReferralCredit() {
	referralCredits.Inc()
}

// Serve starts the metrics HTTP listener on addr. It blocks, so callers run
// it on its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Metrics listener starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics listener stopped")
	}
}
