package dataset

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	examplesLoaded  = promauto.NewCounter(prometheus.CounterOpts{Name: "mtl_examples_loaded_total", Help: "Examples read from data.json.gz files"})
	recordsWritten  = promauto.NewCounterVec(prometheus.CounterOpts{Name: "mtl_records_written_total", Help: "Records written per split"}, []string{"split"})
	vocabularySize  = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "mtl_vocabulary_size", Help: "Size of the last vocabulary built for a dataset, reserved ids included"}, []string{"dataset"})
	stageDurations  = promauto.NewSummaryVec(prometheus.SummaryOpts{Name: "mtl_stage_duration_seconds", Help: "Time spent per pipeline stage"}, []string{"stage"})
	datasetsPrepped = promauto.NewCounter(prometheus.CounterOpts{Name: "mtl_datasets_prepared_total", Help: "Datasets whose records were written"})
)

func observeStage(stage Stage, start time.Time) {
	stageDurations.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}
