package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mmlu"
	subsystem = "operator"
)

var (
	startTime = time.Now()

	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "uptime_seconds",
		Help:      "The uptime of the operator in seconds",
	})

	// Tasks seen by the monitor, source: live, backfill, catchup
	TasksDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_detected_total",
		Help:      "Task notifications decoded by the event monitor",
	}, []string{"source"})

	MalformedNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "malformed_notifications_total",
		Help:      "Task notifications dropped because they could not be decoded",
	})

	TasksDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_dispatched_total",
		Help:      "Tasks admitted to the dispatcher",
	})

	TasksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_duplicate_total",
		Help:      "Dispatch requests ignored because the task was already claimed",
	})

	// Tasks that reached a terminal state, state: recorded, failed, skipped
	TasksFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_finished_total",
		Help:      "Tasks that reached a terminal state",
	}, []string{"state"})

	// Failures by the stage they happened in: evaluating, signing, submitting
	TaskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "task_failures_total",
		Help:      "Task failures by lifecycle stage",
	}, []string{"stage"})

	TaskDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "task_duration_seconds",
		Help:      "Time from dispatch to a terminal state",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 900, 1200, 1800, 2400},
	})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tasks_in_flight",
		Help:      "Task lifecycles currently holding an admission slot",
	})

	// Evaluation status polls, outcome: pending, completed, error
	EvaluationPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "evaluation_polls_total",
		Help:      "Evaluation status polls by outcome",
	}, []string{"outcome"})

	AverageAccuracyPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "average_accuracy_percent",
		Help:      "Running average accuracy of recorded tasks",
	})

	LatestTaskNum = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "latest_task_num",
		Help:      "latestTaskNum reported by the service manager at the last heartbeat",
	})

	CurrentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_block",
		Help:      "Chain head observed at the last heartbeat",
	})

	SubscriptionReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subscription_reconnects_total",
		Help:      "Times the task subscription was re-established",
	})

	// Transactions sent, status: success, reverted, failed
	TransactionsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "transactions_sent_total",
		Help:      "respondToTask transactions by outcome",
	}, []string{"status"})

	GasUsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "gas_used_total",
		Help:      "Total gas used by confirmed transactions",
	})

	MemoryUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "memory_usage_bytes",
		Help:      "Host memory in use",
	})

	CPUUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cpu_usage_percent",
		Help:      "Host CPU utilisation",
	})

	GoroutinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "goroutines_active",
		Help:      "Number of live goroutines",
	})
)
