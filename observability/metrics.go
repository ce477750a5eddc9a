package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Send results.
const (
	SendOK      = "ok"
	SendDropped = "dropped"
	SendFailed  = "failed"
)

var (
	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "konnekt_socket_frames_received_total",
			Help: "Inbound text frames read from the chat socket",
		},
	)

	FramesMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "konnekt_socket_frames_malformed_total",
			Help: "Inbound frames dropped because they could not be decoded",
		},
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnekt_socket_sends_total",
			Help: "Outbound frames by result",
		},
		[]string{"result"},
	)

	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "konnekt_socket_connections_active",
			Help: "Currently open client sockets",
		},
	)

	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnekt_socket_reconnect_attempts_total",
			Help: "Reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	HistoryLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "konnekt_history_load_duration_seconds",
			Help:    "Duration of REST history loads",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	ServerConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "konnekt_server_connections_active",
			Help: "WebSocket connections held by the dev chat server",
		},
	)

	ServerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konnekt_server_messages_total",
			Help: "Messages handled by the dev chat server by result",
		},
		[]string{"result"},
	)
)
