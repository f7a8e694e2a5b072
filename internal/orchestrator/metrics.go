package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics feeds the status/monitor surface. Directions are "to_upstream"
// (device microphone toward the agent) and "to_device" (synthesized audio
// back toward the speaker).
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	FramesRelayed    *prometheus.CounterVec
	BytesRelayed     *prometheus.CounterVec
	FramesDiscarded  prometheus.Counter
	Backpressure     *prometheus.GaugeVec
	Handoffs         prometheus.Counter
	UpstreamRetries  prometheus.Counter
	UpstreamFailures *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
}

// NewMetrics registers the relay metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "storyteller_active_sessions",
			Help: "Number of devices with a live session.",
		}),
		FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyteller_relay_frames_total",
			Help: "Audio frames relayed between device and upstream.",
		}, []string{"direction"}),
		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyteller_relay_bytes_total",
			Help: "Audio bytes relayed between device and upstream.",
		}, []string{"direction"}),
		FramesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "storyteller_relay_frames_discarded_total",
			Help: "Frames discarded while an agent handoff was in progress.",
		}),
		Backpressure: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "storyteller_relay_backpressure",
			Help: "1 while the relay is suspended waiting on a saturated peer.",
		}, []string{"direction"}),
		Handoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "storyteller_agent_handoffs_total",
			Help: "Completed choice-to-episode agent handoffs.",
		}),
		UpstreamRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "storyteller_upstream_reconnects_total",
			Help: "Upstream conversations reopened after a transient failure.",
		}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyteller_upstream_failures_total",
			Help: "Upstream failures by error class.",
		}, []string{"class"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storyteller_tool_calls_total",
			Help: "Tool calls received from the upstream agent.",
		}, []string{"tool", "outcome"}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry, for tests.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
