// Package metrics exposes the outcome of the last run as a Prometheus
// textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-scripts/answerbot/internal/types"
)

// Run is the outcome recorded for one run.
type Run struct {
	Mode     string
	Selected int
	Drafted  int
	Failures []types.Failure
	Started  time.Time
	Ended    time.Time
}

// Recorder holds the per-run gauges.
type Recorder struct {
	reg      *prometheus.Registry
	selected prometheus.Gauge
	drafted  prometheus.Gauge
	failures *prometheus.GaugeVec
	duration prometheus.Gauge
	lastRun  *prometheus.GaugeVec
}

// New registers the gauges on a private registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		selected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "answerbot",
			Name:      "invitations_selected",
			Help:      "Invitations selected for drafting in the last run.",
		}),
		drafted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "answerbot",
			Name:      "drafts_saved",
			Help:      "Drafts confirmed saved in the last run.",
		}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "answerbot",
			Name:      "failures",
			Help:      "Failures in the last run by pipeline stage.",
		}, []string{"stage"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "answerbot",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "answerbot",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run ended, labelled by mode.",
		}, []string{"mode"}),
	}
	r.reg.MustRegister(r.selected, r.drafted, r.failures, r.duration, r.lastRun)
	return r
}

// Observe sets the gauges from run.
func (r *Recorder) Observe(run Run) {
	r.selected.Set(float64(run.Selected))
	r.drafted.Set(float64(run.Drafted))

	r.failures.Reset()
	for _, stage := range []string{types.StageLogin, types.StageGenerate, types.StageDraft, types.StageRun} {
		r.failures.WithLabelValues(stage)
	}
	for _, f := range run.Failures {
		r.failures.WithLabelValues(f.Stage).Inc()
	}

	r.duration.Set(run.Ended.Sub(run.Started).Seconds())
	r.lastRun.Reset()
	r.lastRun.WithLabelValues(run.Mode).Set(float64(run.Ended.Unix()))
}

// WriteTextfile writes the gauges to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
