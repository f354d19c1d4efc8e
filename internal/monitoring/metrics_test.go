package monitoring

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huyhung411991/PINetTensorRT/internal/lane"
)

func TestMetrics_ObserveDecode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveDecode(lane.Stats{
		ActiveCells:      40,
		OutOfBounds:      3,
		NonFinite:        1,
		CapacityDiscards: 2,
		ClusteredCells:   34,
		LanesFormed:      5,
		LanesDropped:     1,
		OutliersRemoved:  2,
		DecodeDuration:   300 * time.Microsecond,
	}, nil)
	m.ObserveDecode(lane.Stats{}, nil)
	m.ObserveDecode(lane.Stats{}, errors.New("bad shape"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("error")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.ActiveCellsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DiscardedCellsTotal.WithLabelValues(ReasonOutOfBounds)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscardedCellsTotal.WithLabelValues(ReasonNonFinite)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DiscardedCellsTotal.WithLabelValues(ReasonCapacity)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LanesEmittedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LanesDroppedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutliersTotal))
	assert.Equal(t, 3, testutil.CollectAndCount(m.DiscardedCellsTotal))
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration must panic")

	assert.NotPanics(t, func() { NewMetrics(nil) })
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveDecode(lane.Stats{ActiveCells: 7, LanesFormed: 1}, nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "lane_active_cells_total 7"), body)
	assert.Contains(t, body, `lane_frames_decoded_total{result="ok"} 1`)
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	shutdown := StartMetricsServer("127.0.0.1:0", prometheus.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
