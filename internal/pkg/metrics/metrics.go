package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectivityState tracks the connectivity state machine. The current
	// state carries 1, all others 0.
	ConnectivityState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fwforge_connectivity_state",
			Help: "Current state of the connectivity state machine (1 = active state).",
		},
		[]string{"state"},
	)

	// UploadBytesTotal counts bytes forwarded to the image writer.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fwforge_upload_bytes_total",
			Help: "Total number of uploaded bytes forwarded to the image writer.",
		},
	)

	// UploadSessionsTotal counts finished upload sessions by outcome.
	UploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwforge_upload_sessions_total",
			Help: "Total number of upload sessions by terminal status.",
		},
		[]string{"status"},
	)
)

// SetConnectivityState marks state as the single active connectivity state.
func SetConnectivityState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1.0
		}
		ConnectivityState.WithLabelValues(s).Set(v)
	}
}
