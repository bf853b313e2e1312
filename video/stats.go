package video

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean for the stream to count as stable.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected inter-frame interval.
	jitterStabilityThreshold = 0.20

	// frameWindow is how many recent frame timestamps feed the rate stats.
	frameWindow = 120
)

// RateStats summarizes recent frame arrival times.
type RateStats struct {
	Frames       int
	Window       time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	Stable       bool
}

// Stats is a controller snapshot.
type Stats struct {
	State         State
	Width, Height int
	Frames        uint64
	Skipped       uint64
	Bytes         uint64
	Recording     bool
	RecordPath    string
	Rate          RateStats
}

// CalculateRateStats computes FPS and jitter statistics over frameTimes,
// which must be in arrival order.
func CalculateRateStats(frameTimes []time.Time) RateStats {
	n := len(frameTimes)
	if n < 2 {
		return RateStats{Frames: n}
	}

	window := frameTimes[n-1].Sub(frameTimes[0])
	stats := RateStats{Frames: n, Window: window}
	if window <= 0 {
		return stats
	}

	// n timestamps span n-1 intervals.
	fpsMean := float64(n-1) / window.Seconds()
	stats.FPSMean = fpsMean

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / fpsMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	stats.Stable = stats.FPSStdDev < fpsMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

// rateTracker keeps the last frameWindow arrival times.
type rateTracker struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

func newRateTracker() *rateTracker {
	return &rateTracker{times: make([]time.Time, frameWindow)}
}

func (r *rateTracker) add(t time.Time) {
	r.mu.Lock()
	r.times[r.next] = t
	r.next = (r.next + 1) % len(r.times)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *rateTracker) reset() {
	r.mu.Lock()
	r.next, r.full = 0, false
	r.mu.Unlock()
}

func (r *rateTracker) stats() RateStats {
	r.mu.Lock()
	var ordered []time.Time
	if r.full {
		ordered = append(ordered, r.times[r.next:]...)
		ordered = append(ordered, r.times[:r.next]...)
	} else {
		ordered = append(ordered, r.times[:r.next]...)
	}
	r.mu.Unlock()
	return CalculateRateStats(ordered)
}
