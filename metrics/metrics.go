// Package metrics exposes Prometheus counters for the polling loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts upstream clip fetches by outcome
	// (ok, empty, http_error, transport_error, bad_body).
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medal_fetch_total",
		Help: "Upstream latest-clip fetches by outcome.",
	}, []string{"result"})

	// AnnounceTotal counts announcement attempts by outcome (ok, error).
	AnnounceTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medal_announce_total",
		Help: "Clip announcements handed to the delivery channel, by outcome.",
	}, []string{"result"})

	// TicksTotal counts poll passes by outcome (ok, no_credential, skipped_overlap, error).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medal_poll_ticks_total",
		Help: "Poll passes by outcome.",
	}, []string{"result"})

	// StoreWriteErrors counts tracking-store writes that failed after retries.
	StoreWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medal_store_write_errors_total",
		Help: "Tracking store writes that failed after retries.",
	})

	// NewClipsTotal counts clips detected as new (before dispatch).
	NewClipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medal_new_clips_total",
		Help: "Clips detected as new by the dedup comparison.",
	})
)
