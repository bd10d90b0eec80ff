package core

import "sync"

const AVG_COUNT uint8 = 30

// MetricsState keeps the rolling frame time average, the FPS and how often
// the CPU had to wait on a frame slot fence.
type MetricsState struct {
	mu                 sync.Mutex
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
	SlotWaits          uint64
	SlotChecks         uint64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{}
	})
	return nil
}

func MetricsUpdate(frameElapsedTime float64) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	metricsState.MStimes[metricsState.FrameAVGCounter] = frameMS
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		metricsState.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}
		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frameMS
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	metricsState.Frames++
}

// MetricsSlotWait records one readiness check on a frame slot.
func MetricsSlotWait(waited bool) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.SlotChecks++
	if waited {
		metricsState.SlotWaits++
	}
}

func MetricsFrame() (float64, float64) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	return metricsState.FPS, metricsState.MSavg
}

// MetricsSlotWaitRatio is the share of slot checks that blocked the CPU.
func MetricsSlotWaitRatio() float64 {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	if metricsState.SlotChecks == 0 {
		return 0
	}
	return float64(metricsState.SlotWaits) / float64(metricsState.SlotChecks)
}
