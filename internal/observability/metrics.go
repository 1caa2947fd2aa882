package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TAKConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_tak_connection_state",
		Help: "TAK session state (0=disconnected, 1=connecting, 2=connected)",
	})
	TAKReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_tak_reconnects_total",
		Help: "Reconnect attempts scheduled after a lost or failed TAK session",
	})
	TAKEventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_tak_events_received_total",
		Help: "CoT events decoded from the TAK session",
	})
	TAKEventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_tak_events_sent_total",
		Help: "CoT events written to the TAK session by result",
	}, []string{"result"})
	TAKHeartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_tak_heartbeats_total",
		Help: "Heartbeat pings written to the TAK session",
	})
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_cot_parse_errors_total",
		Help: "Inbound chunks dropped because they were not valid CoT",
	})
	DecodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fusion_cot_decode_latency_seconds",
		Help:    "Time spent decoding one inbound chunk",
		Buckets: prometheus.DefBuckets,
	})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_streams_active",
		Help: "Transcoder jobs currently registered",
	})
	StreamStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fusion_stream_starts_total",
		Help: "Transcoder processes spawned",
	})
	StreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_stream_failures_total",
		Help: "Transcoder jobs that ended in failure by reason",
	}, []string{"reason"})

	CamerasRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_cameras_registered",
		Help: "Cameras held by the registry",
	})
	DevicesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_devices_tracked",
		Help: "Devices held by the registry",
	})
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_store_errors_total",
		Help: "Failed Redis operations by operation",
	}, []string{"op"})
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_feed_clients",
		Help: "Dashboard clients connected to the live feed",
	})
)

func ObserveDecodeLatency(start time.Time) {
	DecodeLatency.Observe(time.Since(start).Seconds())
}
