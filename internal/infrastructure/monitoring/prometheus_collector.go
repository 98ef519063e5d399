package monitoring

import (
	"time"

	"commlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector aggregates relay and room metrics. It satisfies
// the relay's Metrics interface.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	roomsActive       prometheus.Gauge

	framesReceived *prometheus.CounterVec
	framesRejected *prometheus.CounterVec

	signalLatency   prometheus.Histogram
	sessionDuration prometheus.Histogram

	roomMemberCount  *prometheus.GaugeVec
	roomMessageTotal *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "commlink_connections_active",
			Help: "Number of currently connected participants",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commlink_connections_total",
			Help: "Total number of accepted relay connections",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "commlink_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		framesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commlink_frames_received_total",
			Help: "Total frames accepted by the relay, by frame type",
		}, []string{"type"}),

		framesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commlink_frames_rejected_total",
			Help: "Total frames rejected by the relay, by frame type and reason",
		}, []string{"type", "reason"}),

		signalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "commlink_signal_roundtrip_seconds",
			Help:    "Offer/answer signaling round trip duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		sessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "commlink_peer_session_duration_seconds",
			Help:    "Lifetime of established peer sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		roomMemberCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "commlink_room_member_count",
			Help: "Number of members per room",
		}, []string{"room_id"}),

		roomMessageTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commlink_room_messages_total",
			Help: "Total messages relayed per room",
		}, []string{"room_id"}),
	}
}

func (p *PrometheusCollector) ConnectionOpened() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) FrameReceived(frameType string) {
	p.framesReceived.WithLabelValues(frameType).Inc()
}

func (p *PrometheusCollector) FrameRejected(frameType, reason string) {
	p.framesRejected.WithLabelValues(frameType, reason).Inc()
}

func (p *PrometheusCollector) RecordRoomCreated(roomID domain.RoomID) {
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed(roomID domain.RoomID) {
	p.roomsActive.Dec()
	p.roomMemberCount.DeleteLabelValues(string(roomID))
	p.roomMessageTotal.DeleteLabelValues(string(roomID))
}

func (p *PrometheusCollector) SetRoomMembers(roomID domain.RoomID, count int) {
	p.roomMemberCount.WithLabelValues(string(roomID)).Set(float64(count))
}

func (p *PrometheusCollector) RecordRoomMessage(roomID domain.RoomID) {
	p.roomMessageTotal.WithLabelValues(string(roomID)).Inc()
}

func (p *PrometheusCollector) RecordSignalRoundTrip(duration time.Duration) {
	p.signalLatency.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordSessionDuration(duration time.Duration) {
	p.sessionDuration.Observe(duration.Seconds())
}
