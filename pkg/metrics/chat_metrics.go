package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat metrics for monitoring message lifecycle and real-time delivery
var (
	ChatMessagePersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_persisted_total",
		Help: "Total number of messages persisted",
	}, []string{"message_type"})

	ChatMessageDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_duplicate_total",
		Help: "Total number of duplicate sends resolved by the idempotency guard",
	})

	ChatMessagePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_message_published_total",
		Help: "Total number of real-time events published to Redis",
	}, []string{"status"})

	ChatMessageSendUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_send_unauthorized_total",
		Help: "Total number of sends rejected because the sender is not a participant",
	})

	ChatMessageDecryptFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_message_decrypt_failure_total",
		Help: "Total number of stored messages that failed decryption during history reads",
	})

	ChatKeyProvisionedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_key_provisioned_total",
		Help: "Total number of conversation keys provisioned",
	})

	ChatWebSocketConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections_active",
		Help: "Current number of authenticated WebSocket connections",
	})

	ChatWebSocketConnectionUnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_websocket_connection_unauthorized_total",
		Help: "Total number of rejected WebSocket connections",
	})

	ChatClientMessageDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_message_dropped_total",
		Help: "Total number of events dropped instead of delivered to a client",
	}, []string{"reason"})
)
