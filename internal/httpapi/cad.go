package httpapi

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kabili207/meshcore-go/internal/radio"
)

// cadTestRanges mirrors cad_calibration_engine.py's get_test_ranges: the
// (det_peak, det_min) sweep bounds per spreading factor. Values outside
// the table fall back to SF8's range, matching the Python default.
var cadTestRanges = map[int][2][2]int{
	7:  {{22, 30}, {12, 20}},
	8:  {{22, 30}, {12, 20}},
	9:  {{24, 32}, {14, 22}},
	10: {{26, 34}, {16, 24}},
	11: {{28, 36}, {18, 26}},
	12: {{30, 38}, {20, 28}},
}

func testRangeFor(sf int) [2][2]int {
	if r, ok := cadTestRanges[sf]; ok {
		return r
	}
	return cadTestRanges[8]
}

// CADEvent is one message pushed to SSE subscribers during a calibration
// run, mirroring broadcast_to_clients' {"type":...} shape.
type CADEvent struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"`
	Current int        `json:"current,omitempty"`
	Total   int        `json:"total,omitempty"`
	Peak    int        `json:"peak,omitempty"`
	Min     int        `json:"min,omitempty"`
	Result  *CADResult `json:"result,omitempty"`
}

// CADResult is one scored (det_peak, det_min) test outcome.
type CADResult struct {
	DetPeak          int     `json:"det_peak"`
	DetMin           int     `json:"det_min"`
	Samples          int     `json:"samples"`
	Detections       int     `json:"detections"`
	DetectionRate    float64 `json:"detection_rate"`
	BaselineRate     float64 `json:"baseline_rate"`
	AdjustedRate     float64 `json:"adjusted_rate"`
	SensitivityScore float64 `json:"sensitivity_score"`
}

// CADCalibrationEngine runs the CAD threshold calibration sweep in a
// separate worker goroutine that sweeps two integer ranges per spreading
// factor. Grounded on
// original_source/repeater/web/cad_calibration_engine.py.
type CADCalibrationEngine struct {
	radio radio.Driver
	log   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	best    *CADResult
	subs    map[chan CADEvent]struct{}
}

// NewCADCalibrationEngine creates a calibration engine bound to a radio.
func NewCADCalibrationEngine(r radio.Driver, log *slog.Logger) *CADCalibrationEngine {
	if log == nil {
		log = slog.Default()
	}
	return &CADCalibrationEngine{radio: r, log: log.WithGroup("cad"), subs: make(map[chan CADEvent]struct{})}
}

// Subscribe registers an SSE client channel; call the returned func to
// unsubscribe.
func (c *CADCalibrationEngine) Subscribe() (chan CADEvent, func()) {
	ch := make(chan CADEvent, 16)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
		close(ch)
	}
}

func (c *CADCalibrationEngine) broadcast(evt CADEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Start begins an asynchronous calibration sweep for the given spreading
// factor. Returns an error if a sweep is already running.
func (c *CADCalibrationEngine) Start(sf, samples int, delay time.Duration) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.best = nil
	c.mu.Unlock()

	go c.run(ctx, sf, samples, delay)
	return nil
}

// Stop cancels an in-progress sweep.
func (c *CADCalibrationEngine) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
}

// Best returns the highest-scoring result found by the last completed or
// in-progress sweep, if any.
func (c *CADCalibrationEngine) Best() *CADResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best
}

func (c *CADCalibrationEngine) run(ctx context.Context, sf, samples int, delay time.Duration) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	rng := testRangeFor(sf)
	peakLo, peakHi := rng[0][0], rng[0][1]
	minLo, minHi := rng[1][0], rng[1][1]
	total := (peakHi - peakLo) * (minHi - minLo)

	c.broadcast(CADEvent{Type: "status", Message: "starting CAD calibration sweep", Total: total})

	current := 0
	for peak := peakLo; peak < peakHi; peak++ {
		for min := minLo; min < minHi; min++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			current++
			c.broadcast(CADEvent{Type: "progress", Current: current, Total: total, Peak: peak, Min: min})

			res := c.testConfig(ctx, peak, min, samples)
			c.recordIfBest(res)
			c.broadcast(CADEvent{Type: "result", Current: current, Total: total, Result: res})

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
	c.broadcast(CADEvent{Type: "complete", Message: "CAD calibration sweep finished"})
}

const cadBaselineSamples = 5
const cadBaselinePeak = 35
const cadBaselineMin = 25

func (c *CADCalibrationEngine) testConfig(ctx context.Context, peak, min, samples int) *CADResult {
	baselineDetections := 0
	for i := 0; i < cadBaselineSamples; i++ {
		if c.performCAD(ctx, cadBaselinePeak, cadBaselineMin) {
			baselineDetections++
		}
	}

	detections := 0
	for i := 0; i < samples; i++ {
		if c.performCAD(ctx, peak, min) {
			detections++
		}
	}

	baselineRate := (float64(baselineDetections) / float64(cadBaselineSamples)) * 100
	detectionRate := (float64(detections) / float64(samples)) * 100
	adjusted := math.Max(0, detectionRate-baselineRate)

	return &CADResult{
		DetPeak:          peak,
		DetMin:           min,
		Samples:          samples,
		Detections:       detections,
		DetectionRate:    detectionRate,
		BaselineRate:     baselineRate,
		AdjustedRate:     adjusted,
		SensitivityScore: sensitivityScore(peak, min, adjusted),
	}
}

func (c *CADCalibrationEngine) performCAD(ctx context.Context, peak, min int) bool {
	if c.radio == nil {
		return false
	}
	if err := c.radio.SetCustomCADThresholds(ctx, peak); err != nil {
		return false
	}
	detected, err := c.radio.PerformCAD(ctx)
	if err != nil {
		return false
	}
	return detected
}

// sensitivityScore mirrors cad_calibration_engine.py's
// _calculate_sensitivity_score: ideal detection rate 20%, preferring
// moderate (peak≈25, min≈15) settings.
func sensitivityScore(peak, min int, adjustedRate float64) float64 {
	const idealRate = 20.0
	ratePenalty := math.Abs(adjustedRate-idealRate) / idealRate
	sensitivityPenalty := (math.Abs(float64(peak-25)) + math.Abs(float64(min-15))) / 20.0
	return math.Max(0, 100-(ratePenalty*50)-(sensitivityPenalty*20))
}

func (c *CADCalibrationEngine) recordIfBest(res *CADResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.best == nil || res.SensitivityScore > c.best.SensitivityScore {
		c.best = res
	}
}
