package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics (§4.C, SPEC_FULL §13)

	DispatcherFanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "dispatcher_fanout_duration_seconds",
		Help:      "Time to fan a single schedule out to every resolved target instance.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	DispatchResultTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "dispatcher_dispatch_result_total",
		Help:      "Per-instance dispatch outcomes, by result.",
	}, []string{"result"})

	// Comet metrics

	CometLinksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "comet_links_active",
		Help:      "Number of Agent links currently held open by this Comet process.",
	})

	CometForwardDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "comet_forward_dropped_total",
		Help:      "Frames Comet failed to forward, by reason.",
	}, []string{"reason"})

	// Scheduler engine metrics

	SchedulerTimerFiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "scheduler_timer_fires_total",
		Help:      "Total timer fires, by schedule_type.",
	}, []string{"schedule_type"})

	SchedulerRetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "scheduler_retry_total",
		Help:      "Total retry attempts issued after a non-success exit.",
	}, []string{"eid"})

	// Workflow metrics

	WorkflowProcessTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "workflow_process_transitions_total",
		Help:      "Workflow process status transitions, by resulting status.",
	}, []string{"status"})

	// Running-status / Agent gauges

	RunningStatusRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "running_status_rows",
		Help:      "Current number of running_status rows with run_status=running.",
	})

	AgentRunningProcesses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "agent_running_processes",
		Help:      "Number of exec processes this Agent currently has in flight.",
	})

	// HTTP metrics (thin Console admin/control surface, §12)

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
		DispatcherFanoutDuration,
		DispatchResultTotal,
		CometLinksActive,
		CometForwardDroppedTotal,
		SchedulerTimerFiresTotal,
		SchedulerRetryTotal,
		WorkflowProcessTransitionsTotal,
		RunningStatusRows,
		AgentRunningProcesses,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
