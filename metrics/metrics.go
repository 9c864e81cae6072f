// Package metrics counts what a run did. The job is too short-lived to be
// scraped, so the counters are written to a textfile for the node exporter
// textfile collector instead.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EndpointSearch = "search"
	EndpointVideos = "videos"

	OutcomeOK    = "ok"
	OutcomeQuota = "quota"
	OutcomeError = "error"

	TargetCanonical = "canonical"
	TargetBackup    = "backup"
	TargetFailed    = "failed"
)

type Metrics struct {
	registry     *prometheus.Registry
	APIRequests  *prometheus.CounterVec
	Transcripts  *prometheus.CounterVec
	VideosAdded  prometheus.Counter
	StatsUpdated prometheus.Counter
	Saves        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytcorpus_api_requests_total",
				Help: "YouTube Data API requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		Transcripts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytcorpus_transcripts_total",
				Help: "Transcript lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		VideosAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytcorpus_videos_added_total",
				Help: "Videos appended to the table.",
			},
		),
		StatsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ytcorpus_stats_updated_total",
				Help: "Existing videos whose statistics were refreshed.",
			},
		),
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytcorpus_saves_total",
				Help: "Table saves, labeled by where the data ended up.",
			},
			[]string{"target"},
		),
	}
	m.registry.MustRegister(m.APIRequests, m.Transcripts, m.VideosAdded, m.StatsUpdated, m.Saves)

	return m
}

func (m *Metrics) Request(endpoint, outcome string) {
	m.APIRequests.WithLabelValues(endpoint, outcome).Inc()
}

// WriteTextfile writes all counters to path. An empty path disables it.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}

	return nil
}
