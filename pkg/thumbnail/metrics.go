package thumbnail

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	thumbnailResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_thumbnail_resolutions_total",
		Help: "Thumbnail resolutions by result",
	}, []string{"result"}) // "loaded", "none", "error"

	thumbnailBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_thumbnail_batch_duration_seconds",
		Help:    "Duration of a concurrent thumbnail batch",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	thumbnailReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_thumbnail_releases_total",
		Help: "Thumbnail handles released",
	})
)
