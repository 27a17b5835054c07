// Package engine provides the tiered tick scheduler and the World
// coordinator that owns every simulation subsystem.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine drives the simulation forward on three cadences: a fast tick every
// step, a medium (AI) tick every MediumEvery steps and a slow (market) tick
// every SlowEvery steps. Within one step the order is always fast, medium,
// slow.
type Engine struct {
	Tick        uint64        // Current tick counter (monotonic, never resets)
	Interval    time.Duration // Wall-clock duration of one tick at speed 1
	MediumEvery uint64
	SlowEvery   uint64

	// Callbacks for each tick layer, populated during setup.
	OnFast   func(tick uint64)
	OnMedium func(tick uint64)
	OnSlow   func(tick uint64)

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = real-time, 0 = paused
	running bool
	stop    chan struct{}
}

// NewEngine creates a scheduler with the given cadences.
func NewEngine(interval time.Duration, mediumEvery, slowEvery uint64) *Engine {
	if mediumEvery == 0 {
		mediumEvery = 1
	}
	if slowEvery == 0 {
		slowEvery = 1
	}
	return &Engine{
		Interval:    interval,
		MediumEvery: mediumEvery,
		SlowEvery:   slowEvery,
		speed:       1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(s float64) {
	if s < 0 {
		s = 0
	}
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the simulation loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "tick", e.Tick)
	}()

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond
		if speed > 0 {
			start := time.Now()
			e.Step()
			target := time.Duration(float64(e.Interval) / speed)
			wait = target - time.Since(start)
		}
		if wait <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Step advances the simulation by one tick.
func (e *Engine) Step() {
	e.Tick++

	if e.OnFast != nil {
		e.OnFast(e.Tick)
	}
	if e.Tick%e.MediumEvery == 0 && e.OnMedium != nil {
		e.OnMedium(e.Tick)
	}
	if e.Tick%e.SlowEvery == 0 && e.OnSlow != nil {
		e.OnSlow(e.Tick)
	}
}
