package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pairchat"

// Delivery paths reported by DeliveryFailed.
const (
	PathLive    = "live"
	PathBacklog = "backlog"
	PathRemote  = "remote"
)

// Metrics groups the relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	activeSessions        prometheus.Gauge
	activeRooms           prometheus.Gauge
	messagesRelayed       prometheus.Counter
	persistFailures       prometheus.Counter
	unpersistedBroadcasts prometheus.Counter
	deliveryFailures      *prometheus.CounterVec
	backlogDelivered      prometheus.Counter
	historyLoads          prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Websocket sessions currently joined to a room.",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with at least one local member.",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "send_message commands broadcast to a room.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Messages the store refused or failed to write.",
		}),
		unpersistedBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpersisted_broadcasts_total",
			Help:      "Messages broadcast live although persisting them failed.",
		}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Pushes to a single member or device that failed.",
		}, []string{"path"}),
		backlogDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backlog_delivered_total",
			Help:      "Unread messages pushed on connect and marked read.",
		}),
		historyLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_loads_total",
			Help:      "load_messages commands answered.",
		}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.activeRooms,
		m.messagesRelayed,
		m.persistFailures,
		m.unpersistedBroadcasts,
		m.deliveryFailures,
		m.backlogDelivered,
		m.historyLoads,
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.activeRooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.activeRooms.Dec()
	}
}

func (m *Metrics) MessageRelayed() {
	if m != nil {
		m.messagesRelayed.Inc()
	}
}

// PersistFailed counts a failed write; broadcast reports whether the message still went out live.
func (m *Metrics) PersistFailed(broadcast bool) {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
	if broadcast {
		m.unpersistedBroadcasts.Inc()
	}
}

func (m *Metrics) DeliveryFailed(path string) {
	if m != nil {
		m.deliveryFailures.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) BacklogDelivered(n int) {
	if m != nil && n > 0 {
		m.backlogDelivered.Add(float64(n))
	}
}

func (m *Metrics) HistoryLoaded() {
	if m != nil {
		m.historyLoads.Inc()
	}
}
