package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolveJobs counts finished solves by problem kind and outcome (feasible, infeasible, error)
	SolveJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solver_jobs_total", Help: "Finished solver jobs by kind and outcome."},
		[]string{"kind", "outcome"},
	)
	// SolveDuration tracks wall time per solve in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solver_duration_seconds", Help: "Solver wall time in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}},
		[]string{"kind"},
	)
	// SolveIterations counts local-search steps
	SolveIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "solver_iterations_total", Help: "Local search iterations."},
		[]string{"kind"},
	)
	// BestScore is the last best score per kind and level
	BestScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "solver_best_score", Help: "Best score of the last finished solve."},
		[]string{"kind", "level"},
	)
	// LocationUpdates counts partner location updates by result (accepted, rate_limited, error)
	LocationUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "location_updates_total", Help: "Partner location updates by result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolveJobs)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveIterations)
		Registry.MustRegister(BestScore)
		Registry.MustRegister(LocationUpdates)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveSolve records one finished solve.
func ObserveSolve(kind, outcome string, seconds float64, iterations int, hard, soft int64) {
	SolveJobs.WithLabelValues(kind, outcome).Inc()
	SolveDuration.WithLabelValues(kind).Observe(seconds)
	SolveIterations.WithLabelValues(kind).Add(float64(iterations))
	BestScore.WithLabelValues(kind, "hard").Set(float64(hard))
	BestScore.WithLabelValues(kind, "soft").Set(float64(soft))
}
