package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordFetch("index", "NIFTY", "ok")
	r.RecordFetch("index", "NIFTY", "ok")
	r.RecordError("upstream_unavailable")
	r.RecordPCR("NIFTY", "current_week", 1.2, 0.9)
	r.RecordSink("telegram", "error")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetches.WithLabelValues("index", "NIFTY", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("upstream_unavailable")))
	assert.Equal(t, 1.2, testutil.ToFloat64(r.oiPCR.WithLabelValues("NIFTY", "current_week")))
	assert.Equal(t, 0.9, testutil.ToFloat64(r.volumePCR.WithLabelValues("NIFTY", "current_week")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sinks.WithLabelValues("telegram", "error")))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
