package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_active_connections",
		Help: "Active websocket connections",
	})

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Users with at least one bound connection",
	})

	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "Realtime commands handled, by command",
	}, []string{"command"})

	CommandFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_command_failures_total",
		Help: "Realtime commands that failed, by command and reason",
	}, []string{"command", "reason"})

	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_frames_total",
		Help: "Outbound frames dropped because a client outbox was full or closed",
	})

	TypingExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_typing_expired_total",
		Help: "Typing indicators cleared by the inactivity sweep",
	})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			Connections,
			OnlineUsers,
			Commands,
			CommandFailures,
			DroppedFrames,
			TypingExpired,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
