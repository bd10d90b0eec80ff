package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSlotWaitRatio(t *testing.T) {
	assert.NoError(t, MetricsInitialize())
	metricsState.mu.Lock()
	metricsState.SlotWaits, metricsState.SlotChecks = 0, 0
	metricsState.mu.Unlock()

	MetricsSlotWait(true)
	MetricsSlotWait(false)
	MetricsSlotWait(false)
	MetricsSlotWait(true)
	assert.InDelta(t, 0.5, MetricsSlotWaitRatio(), 1e-9)
}
