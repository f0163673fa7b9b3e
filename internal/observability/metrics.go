package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts persisted outbound messages by kind.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_messages_sent_total",
		Help: "Total number of messages accepted by the delivery pipeline",
	}, []string{"kind"})

	// MessageSendFailures counts send failures by error code.
	MessageSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_message_send_failures_total",
		Help: "Total number of failed message sends by error code",
	}, []string{"code"})

	// OfflineQueueDepth is the current number of queued compose actions.
	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wedhabesha_offline_queue_depth",
		Help: "Number of compose actions waiting in the offline queue",
	})

	// OfflineQueueReplays counts replay outcomes.
	OfflineQueueReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_offline_queue_replays_total",
		Help: "Total offline queue replay attempts by outcome",
	}, []string{"outcome"})

	// ReconnectAttempts counts live-channel reconnection attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wedhabesha_reconnect_attempts_total",
		Help: "Total live-channel reconnection attempts",
	})

	// RemindersArmed counts armed reminder timers.
	RemindersArmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wedhabesha_reminders_armed_total",
		Help: "Total unread-message reminder timers armed",
	})

	// ReminderOutcomes counts terminal reminder timer states.
	ReminderOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_reminder_outcomes_total",
		Help: "Total reminder timer outcomes (fired, cancelled, fallback, dropped)",
	}, []string{"outcome"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wedhabesha_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wedhabesha_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)
