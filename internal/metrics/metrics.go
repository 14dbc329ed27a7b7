// Package metrics holds the engine's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_feed_polls_total",
		Help: "Feed poll cycles by outcome.",
	}, []string{"outcome"})

	EntriesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_entries_posted_total",
		Help: "Feed entries posted for the first time.",
	})

	EntriesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_entries_edited_total",
		Help: "Posted messages edited after upstream content changes.",
	})

	CalendarSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_calendar_syncs_total",
		Help: "Calendar sync runs by outcome.",
	}, []string{"outcome"})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_reminders_sent_total",
		Help: "One-hour-ahead reminders emitted.",
	})

	MapRenderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "herald_map_render_seconds",
		Help:    "Wall time of map rasterization.",
		Buckets: prometheus.DefBuckets,
	})

	MapCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_map_cache_hits_total",
		Help: "Map cache hits by level (base-mem, base-disk, final).",
	}, []string{"level"})
)
