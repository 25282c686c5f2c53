package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordHelpers(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		before := counterValue(t, FetchRequests.WithLabelValues("listing", "ok"))
		RecordFetch("listing", "ok", 20*time.Millisecond)
		assert.Equal(t, before+1, counterValue(t, FetchRequests.WithLabelValues("listing", "ok")))
	})

	t.Run("gap", func(t *testing.T) {
		before := counterValue(t, CollectionGaps.WithLabelValues("article"))
		RecordGap("article")
		RecordGap("article")
		assert.Equal(t, before+2, counterValue(t, CollectionGaps.WithLabelValues("article")))
	})

	t.Run("rejection", func(t *testing.T) {
		before := counterValue(t, PayloadsRejected.WithLabelValues("missing_id"))
		RecordRejection("missing_id")
		assert.Equal(t, before+1, counterValue(t, PayloadsRejected.WithLabelValues("missing_id")))
	})

	t.Run("api request", func(t *testing.T) {
		before := counterValue(t, APIRequests.WithLabelValues("GET", "/health", "200"))
		RecordAPIRequest("GET", "/health", "200", time.Millisecond)
		assert.Equal(t, before+1, counterValue(t, APIRequests.WithLabelValues("GET", "/health", "200")))
	})
}
