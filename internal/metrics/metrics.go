package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Метрики клиента. Регистрируются один раз в дефолтном регистре.
var (
	CorrelationPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "correlation",
		Name:      "pending_slots",
		Help:      "Количество зарегистрированных ключей корреляции.",
	})
	CorrelationTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "correlation",
		Name:      "timeouts_total",
		Help:      "Ожидания, завершившиеся таймаутом.",
	})
	CorrelationResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "correlation",
		Name:      "resolutions_total",
		Help:      "Разрешения слотов по исходу.",
	}, []string{"outcome"})

	InterestContextCells = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay",
		Subsystem: "interest",
		Name:      "context_cells",
		Help:      "Ячейки в контексте игрока.",
	})

	ReconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Сверки контейнеров по пути обработки.",
	}, []string{"path"})
	ReconcileUnresolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "reconcile",
		Name:      "unresolved_deltas_total",
		Help:      "Дельты, не объясненные сценой.",
	})
	ReconcileCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "overlay",
		Subsystem: "reconcile",
		Name:      "candidates",
		Help:      "Число кандидатов в подборе подмножества.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
	})

	DispatchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "dispatch",
		Name:      "results_total",
		Help:      "Результаты команд движка.",
	}, []string{"opcode", "status"})

	BroadcastPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay",
		Subsystem: "transport",
		Name:      "packets_total",
		Help:      "Отправленные пакеты по типу и классу надежности.",
	}, []string{"type", "reliability"})
)

func init() {
	prometheus.MustRegister(
		CorrelationPending,
		CorrelationTimeouts,
		CorrelationResolutions,
		InterestContextCells,
		ReconcileRuns,
		ReconcileUnresolved,
		ReconcileCandidates,
		DispatchResults,
		BroadcastPackets,
	)
}
