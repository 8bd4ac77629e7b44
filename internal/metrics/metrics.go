// Package metrics exposes Prometheus instrumentation for the autonomy
// loop. Collectors are registered once on the default registry; the run
// command serves them via promhttp when enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AttemptsTotal counts attempts by outcome.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopack_attempts_total",
		Help: "Builder attempts by classified outcome.",
	}, []string{"outcome"})

	// PhaseTerminalTotal counts phases reaching a terminal state.
	PhaseTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopack_phase_terminal_total",
		Help: "Phases reaching a terminal state.",
	}, []string{"state"})

	// PolicyDecisionsTotal counts policy engine verdicts.
	PolicyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopack_policy_decisions_total",
		Help: "Policy engine actions chosen for stuck phases.",
	}, []string{"action"})

	// LLMTokensTotal counts tokens by direction (in/out).
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopack_llm_tokens_total",
		Help: "LLM tokens consumed, by direction.",
	}, []string{"direction"})

	// AttemptDuration observes wallclock per attempt.
	AttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopack_attempt_duration_seconds",
		Help:    "Wallclock duration of one builder attempt.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// ApplyRejectsTotal counts governed-apply validation rejections.
	ApplyRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autopack_apply_rejects_total",
		Help: "Governed apply rejections by validation kind.",
	}, []string{"kind"})
)

// Serve exposes /metrics on addr until the server fails. Intended to be
// run in a goroutine alongside the executor.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
