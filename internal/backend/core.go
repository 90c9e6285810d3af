// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package backend

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/relabs-tech/inertial_backend/internal/accumulator"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/filter"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

// Core is the chip-independent engine a variant embeds. The sampling
// routine runs on the bus scheduler's goroutine; Update runs on the
// consumer's. The accumulator is the only state both sides touch.
type Core struct {
	name    string
	dev     bus.Device
	dec     Decoder
	slot    *frontend.Slot
	cfg     Config
	nominal Sensitivity
	clk     clock.Clock

	acc *accumulator.Accumulator
	cal atomic.Pointer[orientation.Calibration]

	// Sampling side.
	buf      []byte
	failures atomic.Int32
	health   atomic.Int32

	// Consumer side.
	chain     *filter.Chain
	publishHz atomic.Uint64 // float64 bits

	txFailures atomic.Uint64
	corrupt    atomic.Uint64
	skipped    atomic.Uint64
	clipped    atomic.Uint64
	published  atomic.Uint64

	mu       sync.Mutex // lifecycle only
	state    atomic.Int32
	periodic bus.Periodic
}

// NewCore builds the engine around a device the variant has already
// identified and taken ownership of.
func NewCore(variant string, dev bus.Device, dec Decoder, slot *frontend.Slot, cfg Config, nominal Sensitivity) (*Core, error) {
	if dev == nil {
		return nil, fmt.Errorf("%s: nil device", variant)
	}
	if slot == nil {
		return nil, fmt.Errorf("%s: nil frontend slot", variant)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", variant, err)
	}
	cal := cfg.Calibration(nominal)
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", variant, err)
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("imu%d %s", slot.Instance(), variant)
	}
	c := &Core{
		name:    name,
		dev:     dev,
		dec:     dec,
		slot:    slot,
		cfg:     cfg,
		nominal: nominal,
		clk:     cfg.Clock,
		acc:     accumulator.New(cfg.Policy, accumulator.CapacityFor(cfg.SampleRateHz, cfg.PublishRateHz)),
		buf:     make([]byte, dec.Size()),
		chain: filter.NewChain(filter.ChainConfig{
			AccelKind:     cfg.AccelFilter,
			AccelCutoffHz: cfg.AccelCutoffHz,
			GyroKind:      cfg.GyroFilter,
			GyroCutoffHz:  cfg.GyroCutoffHz,
		}, cfg.filterRate()),
	}
	c.cal.Store(&cal)
	c.publishHz.Store(math.Float64bits(cfg.filterRate()))
	return c, nil
}

func (c *Core) Name() string       { return c.name }
func (c *Core) Instance() int      { return c.slot.Instance() }
func (c *Core) Health() Health     { return Health(c.health.Load()) }
func (c *Core) State() State       { return State(c.state.Load()) }
func (c *Core) Config() Config     { return c.cfg }
func (c *Core) Device() bus.Device { return c.dev }

// Calibration returns the calibration currently applied.
func (c *Core) Calibration() orientation.Calibration { return *c.cal.Load() }

// FilterRate returns the input rate the filter chain was last derived for.
func (c *Core) FilterRate() float64 { return c.chain.SampleRate() }

func (c *Core) Stats() Stats {
	return Stats{
		Published:           c.published.Load(),
		TransactionFailures: c.txFailures.Load(),
		CorruptSamples:      c.corrupt.Load(),
		SkippedPublishes:    c.skipped.Load(),
		Overflows:           c.acc.Overflows(),
		AccelClipped:        c.clipped.Load(),
		ConsecutiveFailures: int(c.failures.Load()),
	}
}

// Start registers the sampling routine at the configured rate.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Sampling:
		return nil
	case Stopped:
		return fmt.Errorf("%s: start: %w", c.name, ErrStopped)
	}
	p, err := c.dev.RegisterPeriodicCallback(c.cfg.SampleInterval(), c.sample)
	if err != nil {
		return fmt.Errorf("%s: register sampling routine: %w", c.name, err)
	}
	c.periodic = p
	c.state.Store(int32(Sampling))
	log.Printf("%s: sampling at %.0f Hz on %s", c.name, c.cfg.SampleRateHz, c.dev)
	return nil
}

// Stop unregisters the sampling routine, waiting for an in-flight call,
// and only then closes the device. The slot is marked unhealthy.
func (c *Core) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Stopped {
		return nil
	}
	var err error
	if c.periodic != nil {
		err = multierr.Append(err, c.periodic.Stop())
		c.periodic = nil
	}
	err = multierr.Append(err, c.dev.Close())
	c.state.Store(int32(Stopped))
	c.slot.SetHealthy(false)
	if err != nil {
		return fmt.Errorf("%s: stop: %w", c.name, err)
	}
	log.Printf("%s: stopped", c.name)
	return nil
}

// SetCalibration swaps the whole calibration atomically.
func (c *Core) SetCalibration(cal orientation.Calibration) error {
	if err := cal.Validate(); err != nil {
		return fmt.Errorf("%s: set calibration: %w", c.name, err)
	}
	c.cal.Store(&cal)
	log.Printf("%s: calibration updated", c.name)
	return nil
}

// SetPublishRate changes the filter input rate. The filters are
// re-derived on the next Update, keeping their state.
func (c *Core) SetPublishRate(hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("%s: publish rate must be positive, got %v", c.name, hz)
	}
	c.publishHz.Store(math.Float64bits(hz))
	return nil
}

// sample is the periodic bus routine: one transaction, decode, validate,
// push. It never blocks on the consumer.
func (c *Core) sample() {
	if err := c.dev.ReadRegisters(c.dec.Register(), c.buf); err != nil {
		c.txFailures.Add(1)
		c.fail(err)
		return
	}
	if stuck(c.buf) {
		c.corrupt.Add(1)
		c.fail(ErrStuckBus)
		return
	}
	s, err := c.dec.Decode(c.buf)
	if err != nil {
		c.corrupt.Add(1)
		c.fail(err)
		return
	}
	if !s.Within(c.cfg.AccelLimit, c.cfg.GyroLimit) {
		c.corrupt.Add(1)
		c.fail(ErrOutOfRange)
		return
	}
	if c.nominal.ClipLimit > 0 && s.Clipped(c.nominal.ClipLimit) {
		c.clipped.Add(1)
	}
	c.acc.Add(s)
	c.succeed()
}

func (c *Core) fail(err error) {
	n := c.failures.Add(1)
	if int(n) >= c.cfg.FailureThreshold && c.health.CompareAndSwap(int32(Healthy), int32(Degraded)) {
		log.Printf("%s: degraded after %d consecutive failures: %v", c.name, n, err)
	}
}

func (c *Core) succeed() {
	c.failures.Store(0)
	if c.health.CompareAndSwap(int32(Degraded), int32(Healthy)) {
		log.Printf("%s: recovered", c.name)
	}
}

func stuck(frame []byte) bool {
	allZero, allOnes := true, true
	for _, b := range frame {
		allZero = allZero && b == 0x00
		allOnes = allOnes && b == 0xFF
	}
	return allZero || allOnes
}

// Update drains the accumulator, corrects, filters and publishes one
// sample. It returns false and leaves the slot's values untouched when
// nothing was accumulated, when the backend is degraded, or when it is
// not sampling.
func (c *Core) Update() bool {
	if c.State() != Sampling {
		return false
	}
	if c.Health() == Degraded {
		c.acc.Drain()
		c.slot.SetHealthy(false)
		return false
	}

	c.chain.SetSampleRate(math.Float64frombits(c.publishHz.Load()))

	w := c.acc.Drain()
	if w.Count == 0 {
		c.skipped.Add(1)
		return false
	}

	policy := c.acc.Policy()
	accel, gyro := w.Mean(policy)
	cal := c.cal.Load()
	accel = cal.AccelBody(accel, c.cfg.Rotation)
	gyro = cal.GyroBody(gyro, c.cfg.Rotation)
	accel, gyro = c.chain.Apply(accel, gyro)

	c.slot.Publish(frontend.Sample{
		Time:    c.clk.Now(),
		Accel:   accel,
		Gyro:    gyro,
		TempC:   w.Temperature(policy)*c.nominal.TempScale + c.nominal.TempOffset,
		Count:   w.Count,
		FSync:   w.FSync,
		Healthy: true,
	})
	c.published.Add(1)
	return true
}
