package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trapmon/device/otad/internal/update"
)

var (
	promReg = prometheus.NewRegistry()

	updateBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otad_update_bytes_written_total",
		Help: "Total firmware bytes accepted across all upload attempts.",
	})
	updateAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otad_update_attempts_total",
			Help: "Finished update attempts by terminal state.",
		},
		[]string{"state"},
	)
	chunkMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "otad_chunk_write_mismatches_total",
		Help: "Chunk writes where the flash target reported fewer bytes than offered.",
	})
	buildInfo *prometheus.GaugeVec
)

func initMetrics(version string) {
	_ = promReg.Register(updateBytes)
	_ = promReg.Register(updateAttempts)
	_ = promReg.Register(chunkMismatches)
	if buildInfo == nil {
		buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otad_build_info",
			Help: "Build info of the update daemon.",
		}, []string{"version"})
		_ = promReg.Register(buildInfo)
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

// RecordAttempt feeds one finished attempt into the counters. Wired as part
// of the session recorder alongside the history journal.
func RecordAttempt(a update.Attempt) {
	updateAttempts.WithLabelValues(string(a.State)).Inc()
	updateBytes.Add(float64(a.Bytes))
	chunkMismatches.Add(float64(a.Mismatches))
}
