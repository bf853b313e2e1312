package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPC metrics
var (
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_rpc_requests_total",
			Help: "Total number of RPC requests sent to the vehicle",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rov_host_rpc_request_duration_seconds",
			Help:    "RPC round-trip duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method"},
	)
)

// Session metrics
var (
	SessionConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rov_host_session_connected",
			Help: "1 while a session to the vehicle is open",
		},
		[]string{"vehicle"},
	)

	CommandsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_commands_sent_total",
			Help: "Control packets delivered to the vehicle",
		},
		[]string{"vehicle"},
	)

	CommandsOverwrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_commands_overwritten_total",
			Help: "Pending control packets replaced before they were sent",
		},
		[]string{"vehicle"},
	)

	ConnectionLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_connection_lost_total",
			Help: "Sessions terminated by an RPC failure",
		},
		[]string{"vehicle"},
	)

	FirmwareBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rov_host_firmware_bytes_sent_total",
			Help: "Firmware payload bytes streamed to vehicles",
		},
	)
)

// Video metrics
var (
	VideoFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_video_frames_total",
			Help: "Decoded frames delivered to the frame sink",
		},
		[]string{"vehicle"},
	)

	VideoFramesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_video_frames_skipped_total",
			Help: "Frames skipped because stream geometry was not known yet",
		},
		[]string{"vehicle"},
	)

	VideoPipelineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rov_host_video_pipeline_state",
			Help: "Pipeline state (0 stopped, 1 starting, 2 playing, 3 stopping)",
		},
		[]string{"vehicle"},
	)

	VideoErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_video_errors_total",
			Help: "Pipeline errors by category",
		},
		[]string{"vehicle", "category"},
	)

	FrameTransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rov_host_frame_transform_duration_seconds",
			Help:    "Per-frame transform duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04},
		},
		[]string{"kind"},
	)
)

// Recording metrics
var (
	RecordingActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rov_host_recording_active",
			Help: "1 while a record branch is attached",
		},
		[]string{"vehicle"},
	)

	RecordingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_recordings_total",
			Help: "Finished recordings by outcome",
		},
		[]string{"vehicle", "result"}, // "drained", "forced"
	)
)

// Bridge metrics
var (
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rov_host_bridge_messages_total",
			Help: "MQTT messages handled by the bridge",
		},
		[]string{"direction", "type"},
	)
)
