// Package timers implements the Background Timers supervisor (C10): a
// single ticker-driven loop that samples the radio's noise floor and fires
// the periodic self-advert, grounded on device/advert/scheduler.go's ticker
// idiom and original_source/repeater/engine.py's
// _check_and_send_periodic_advert / get_noise_floor loop.
package timers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// tickInterval matches scheduler.go's 1-second resolution check loop,
// narrowed to the 5-second wake used by engine.py's periodic checks.
const tickInterval = 5 * time.Second

// noiseFloorInterval is the minimum spacing between noise-floor samples.
const noiseFloorInterval = 30 * time.Second

// NoiseFloorReader samples the radio's instantaneous noise floor.
type NoiseFloorReader interface {
	GetNoiseFloor(ctx context.Context) (dbm float64, ok bool)
}

// NoiseFloorSink receives noise-floor samples for persistence/telemetry.
type NoiseFloorSink interface {
	ObserveNoise(ctx context.Context, dbm float64, at time.Time)
}

// AdvertSender sends a fresh self-advert and reports success, mirroring
// engine.py's send_advert_func callback.
type AdvertSender func(ctx context.Context) (bool, error)

// Config configures a Supervisor. AdvertIntervalHours <= 0 disables the
// periodic advert, per engine.py's send_advert_interval_hours <= 0 guard.
type Config struct {
	Radio                NoiseFloorReader
	Telemetry            NoiseFloorSink
	SendAdvert           AdvertSender
	AdvertIntervalHours  float64
	Logger               *slog.Logger

	// nowFn allows overriding time.Now for testing.
	nowFn func() time.Time
}

// Supervisor is the Background Timers component (C10).
type Supervisor struct {
	cfg Config
	log *slog.Logger

	mu              sync.Mutex
	lastNoiseSample time.Time
	lastAdvert      time.Time
	cancel          context.CancelFunc
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.nowFn == nil {
		cfg.nowFn = time.Now
	}
	return &Supervisor{cfg: cfg, log: logger.WithGroup("timers")}
}

// Start begins the ticker loop. Blocks until ctx is cancelled; typically
// called in its own goroutine.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.lastAdvert = s.cfg.nowFn()
	s.mu.Unlock()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop cancels the supervisor's loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	now := s.cfg.nowFn()
	s.sampleNoiseFloor(ctx, now)
	s.checkPeriodicAdvert(ctx, now)
}

func (s *Supervisor) sampleNoiseFloor(ctx context.Context, now time.Time) {
	if s.cfg.Radio == nil || s.cfg.Telemetry == nil {
		return
	}
	s.mu.Lock()
	due := now.Sub(s.lastNoiseSample) >= noiseFloorInterval
	if due {
		s.lastNoiseSample = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	dbm, ok := s.cfg.Radio.GetNoiseFloor(ctx)
	if !ok {
		s.log.Debug("noise floor unavailable from radio binding")
		return
	}
	s.cfg.Telemetry.ObserveNoise(ctx, dbm, now)
}

// checkPeriodicAdvert mirrors _check_and_send_periodic_advert: fires when
// send_advert_interval_hours has elapsed since the last successful send.
func (s *Supervisor) checkPeriodicAdvert(ctx context.Context, now time.Time) {
	if s.cfg.AdvertIntervalHours <= 0 || s.cfg.SendAdvert == nil {
		return
	}

	s.mu.Lock()
	interval := time.Duration(s.cfg.AdvertIntervalHours * float64(time.Hour))
	elapsed := now.Sub(s.lastAdvert)
	due := elapsed >= interval
	s.mu.Unlock()
	if !due {
		return
	}

	s.log.Info("periodic advert interval elapsed, sending advert", "elapsed", elapsed, "interval", interval)
	ok, err := s.cfg.SendAdvert(ctx)
	if err != nil {
		s.log.Error("error sending periodic advert", "error", err)
		return
	}
	if !ok {
		s.log.Warn("failed to send periodic advert")
		return
	}

	s.mu.Lock()
	s.lastAdvert = now
	s.mu.Unlock()
}
