package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(promSessionTotal)

	SessionStarted()
	SessionStarted()
	SessionStopped()

	assert.Equal(t, before+1, testutil.ToFloat64(promSessionTotal))
}

func TestOperationCounters(t *testing.T) {
	OperationSucceeded("negotiation")
	OperationFailed("negotiation", "create_offer")

	assert.Equal(t, float64(1), testutil.ToFloat64(ServiceOperationCounter.WithLabelValues("negotiation", "error", "create_offer")))
}

func TestReceivedBytes(t *testing.T) {
	BytesReceived("A", 100)
	BytesReceived("A", 50)
	assert.Equal(t, float64(150), testutil.ToFloat64(promReceivedBytes.WithLabelValues("A")))

	SenderGone("A")
	assert.Equal(t, float64(0), testutil.ToFloat64(promReceivedBytes.WithLabelValues("A")))
}

func TestSwitchObserved(t *testing.T) {
	SwitchObserved(120 * time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(promSwitchLatency))
}
