package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Prometheus, общие для dispatcher и worker.
// Регистрируются через promauto в default registry,
// отдаются через /metrics в каждом бинарнике.
var (
	// DispatchCyclesTotal — количество циклов обработки событий.
	DispatchCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caseflow_dispatch_cycles_total",
		Help: "Total event dispatch cycles executed",
	})

	// EventsProcessedTotal — обработанные события по типу и результату.
	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_events_processed_total",
		Help: "Total events processed, by type and result",
	}, []string{"type", "result"})

	// TasksProcessedTotal — завершённые задачи по порталу и статусу.
	TasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_tasks_processed_total",
		Help: "Total tasks processed, by portal and final status",
	}, []string{"portal", "status"})

	// ItemResultsTotal — записанные результаты по исходу.
	ItemResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_item_results_total",
		Help: "Total item results recorded, by outcome",
	}, []string{"outcome"})

	// FinalizationsTotal — финализации запросов по итоговому статусу.
	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_request_finalizations_total",
		Help: "Total request finalizations, by final status",
	}, []string{"status"})

	// AutomationDuration — длительность выполнения автоматизации по порталу.
	AutomationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caseflow_automation_duration_seconds",
		Help:    "Duration of a single automation attempt, by portal",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"portal"})

	// TaskRetriesTotal — повторные попытки выполнения задач.
	TaskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_task_retries_total",
		Help: "Total task retry attempts, by portal",
	}, []string{"portal"})
)
