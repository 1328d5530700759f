package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	waitingClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gate_waiting_clients",
			Help: "Current waiting queue length per event",
		},
		[]string{"event_id"},
	)

	activeSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gate_active_sessions",
			Help: "Current number of active checkout sessions per event",
		},
		[]string{"event_id"},
	)

	gateOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_operations_total",
			Help: "Total admission gate operations",
		},
		[]string{"operation", "event_id", "status"},
	)

	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total tier ledger operations",
		},
		[]string{"operation", "status"},
	)

	sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gate_session_duration_seconds",
			Help:    "Duration of checkout sessions from grant to release",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"event_id"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(ctx context.Context, redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}
	go monitor.collectGateGauges(ctx)
	return monitor
}

// collectGateGauges samples the waiting and active key families so the
// gauges track reality even when no operation fires. Stops with the
// process-wide context like the other background loops.
func (m *Monitor) collectGateGauges(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sampleGateGauges(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) sampleGateGauges(ctx context.Context) {
	waitingKeys, _ := m.redis.Keys(ctx, "gate:waiting:*").Result()
	for _, key := range waitingKeys {
		eventID := key[len("gate:waiting:"):]
		length, _ := m.redis.ZCard(ctx, key).Result()
		waitingClients.WithLabelValues(eventID).Set(float64(length))
	}

	activeKeys, _ := m.redis.Keys(ctx, "gate:active:*").Result()
	for _, key := range activeKeys {
		eventID := key[len("gate:active:"):]
		count, _ := m.redis.HLen(ctx, key).Result()
		activeSessions.WithLabelValues(eventID).Set(float64(count))
	}
}

func (m *Monitor) TrackGateOperation(operation, eventID, status string) {
	gateOperations.WithLabelValues(operation, eventID, status).Inc()
}

func (m *Monitor) TrackLedgerOperation(operation, status string) {
	ledgerOperations.WithLabelValues(operation, status).Inc()
}

func (m *Monitor) TrackSessionDuration(eventID string, duration time.Duration) {
	sessionDuration.WithLabelValues(eventID).Observe(duration.Seconds())
}
