package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler tick metrics

	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Time taken to claim and fire one batch of due schedules.",
		Buckets:   prometheus.DefBuckets,
	})

	SchedulerJobsFiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "jobs_fired_total",
		Help:      "Total schedules fired into the queue, by schedule kind.",
	}, []string{"kind"})

	SchedulerLeaseContention = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "lease_contention_total",
		Help:      "Times a scheduler replica lost the lease race for a due job.",
	}, []string{"job_id"})

	// Queue dispatcher metrics

	QueuePublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "queue_publish_total",
		Help:      "Messages published to the dispatch stream, by outcome.",
	}, []string{"outcome"})

	QueueRedeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "queue_redelivered_total",
		Help:      "Messages redelivered by the broker after a nak or ack timeout.",
	})

	// Worker / step execution metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	StepExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "step_execution_duration_seconds",
		Help:      "Duration of a single step execution.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind", "status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed by the worker.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	// Circuit breaker metrics

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "circuit_breaker_state",
		Help:      "Current breaker state per target (0=closed, 1=half_open, 2=open).",
	}, []string{"target"})

	CircuitBreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "circuit_breaker_trips_total",
		Help:      "Times a breaker transitioned into the open state, by target.",
	}, []string{"target"})

	// DLQ metrics

	DLQMovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "dlq_moved_total",
		Help:      "Executions moved to the dead letter queue, by job.",
	}, []string{"job_id"})

	DLQManualRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "dlq_manual_retries_total",
		Help:      "Dead-lettered executions manually retried.",
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		SchedulerTickDuration,
		SchedulerJobsFiredTotal,
		SchedulerLeaseContention,
		QueuePublishTotal,
		QueueRedeliveredTotal,
		JobPickupLatency,
		StepExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		CircuitBreakerState,
		CircuitBreakerTripsTotal,
		DLQMovedTotal,
		DLQManualRetriesTotal,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
