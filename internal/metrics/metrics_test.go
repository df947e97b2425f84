package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("status")
		CacheHit("bins")
		CacheMiss("bins")
		CacheStale("bins")
		IncDrain()
	})
}

func TestSetOnline(t *testing.T) {
	before := testutil.ToFloat64(connectivityTransitions.WithLabelValues("online"))

	SetOnline(true, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(online))
	assert.Equal(t, before+1, testutil.ToFloat64(connectivityTransitions.WithLabelValues("online")))

	SetOnline(false, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(online))
}

func TestQueueGauges(t *testing.T) {
	SetPending("booking", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pendingOperations.WithLabelValues("booking")))

	before := testutil.ToFloat64(deliveries.WithLabelValues("booking", "failed"))
	ObserveDelivery("booking", false)
	assert.Equal(t, before+1, testutil.ToFloat64(deliveries.WithLabelValues("booking", "failed")))
}
