package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/sensor-timesync/base/metrics"
)

var syncMetricLabels = []string{"module", "id"}

var (
	offsetVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metrics.SyncOffsetN,
		Help: metrics.SyncOffsetH,
	}, syncMetricLabels)
	indexOffsetVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metrics.SyncIndexOffsetN,
		Help: metrics.SyncIndexOffsetH,
	}, syncMetricLabels)
	correctionOffsetVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metrics.SyncCorrectionOffsetN,
		Help: metrics.SyncCorrectionOffsetH,
	}, syncMetricLabels)
	correctionsVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.SyncCorrectionsN,
		Help: metrics.SyncCorrectionsH,
	}, syncMetricLabels)
	outOfToleranceVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.SyncOutOfToleranceN,
		Help: metrics.SyncOutOfToleranceH,
	}, syncMetricLabels)
	outliersVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.SyncOutliersN,
		Help: metrics.SyncOutliersH,
	}, syncMetricLabels)
	recordsWrittenVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metrics.SyncRecordsWrittenN,
		Help: metrics.SyncRecordsWrittenH,
	}, syncMetricLabels)
)

type syncMetrics struct {
	offset           prometheus.Gauge
	indexOffset      prometheus.Gauge
	correctionOffset prometheus.Gauge
	corrections      prometheus.Counter
	outOfTolerance   prometheus.Counter
	outliers         prometheus.Counter
	recordsWritten   prometheus.Counter
}

func newSyncMetrics(modName, id string) *syncMetrics {
	return &syncMetrics{
		offset:           offsetVec.WithLabelValues(modName, id),
		indexOffset:      indexOffsetVec.WithLabelValues(modName, id),
		correctionOffset: correctionOffsetVec.WithLabelValues(modName, id),
		corrections:      correctionsVec.WithLabelValues(modName, id),
		outOfTolerance:   outOfToleranceVec.WithLabelValues(modName, id),
		outliers:         outliersVec.WithLabelValues(modName, id),
		recordsWritten:   recordsWrittenVec.WithLabelValues(modName, id),
	}
}
