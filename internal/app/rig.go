// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/config"
	"github.com/relabs-tech/inertial_backend/internal/drivers"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
)

const (
	spiSpeed      = 1 * physic.MegaHertz
	serialTimeout = 50 * time.Millisecond
)

// Rig is the set of probed backends and the frontend they publish into.
type Rig struct {
	Frontend *frontend.Frontend
	Backends []backend.Backend
	Configs  []backend.Config // as probed; runtime changes are not reflected

	publishHz   atomic.Uint64 // math.Float64bits
	rateChanged chan struct{}
}

// DeviceOpener opens the bus device of one configured instance.
type DeviceOpener func(imu config.IMUConfig, cfg *config.Config, sched *bus.Scheduler) (bus.Device, error)

// OpenDevice opens the bus named by the instance's IMU_<n>_BUS.
func OpenDevice(imu config.IMUConfig, cfg *config.Config, sched *bus.Scheduler) (bus.Device, error) {
	switch imu.Bus {
	case config.BusSPI:
		return bus.OpenSPI(imu.Device, spiSpeed, sched)
	case config.BusI2C:
		return bus.OpenI2C(imu.Device, imu.Addr, sched)
	case config.BusSerial:
		dev, err := bus.OpenSerial(imu.Device, uint(cfg.SerialBaudRate), serialTimeout, sched)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case config.BusSim:
		return bus.NewSimulated(sched), nil
	}
	return nil, fmt.Errorf("unsupported bus %q", imu.Bus)
}

// NewRig opens, probes and starts every configured instance. An instance
// whose device is absent is logged and left out; its slot stays empty.
func NewRig(cfg *config.Config, sched *bus.Scheduler, open DeviceOpener) (*Rig, error) {
	rig := &Rig{
		Frontend:    frontend.New(len(cfg.IMUs)),
		rateChanged: make(chan struct{}, 1),
	}
	rig.publishHz.Store(math.Float64bits(cfg.PublishRateHz))

	for n, imu := range cfg.IMUs {
		bc := cfg.Backend(n)
		bc.Clock = sched.Clock()

		b, err := probeInstance(rig.Frontend, n, imu, bc, cfg, sched, open)
		if err != nil {
			return nil, multierr.Append(err, rig.Stop())
		}
		if b == nil {
			continue
		}
		if err := b.Start(); err != nil {
			return nil, multierr.Combine(err, b.Stop(), rig.Stop())
		}
		rig.Backends = append(rig.Backends, b)
		rig.Configs = append(rig.Configs, bc)
	}
	if len(rig.Backends) == 0 {
		return nil, fmt.Errorf("no IMU found on any configured bus")
	}
	return rig, nil
}

func probeInstance(fe *frontend.Frontend, n int, imu config.IMUConfig, bc backend.Config, cfg *config.Config, sched *bus.Scheduler, open DeviceOpener) (backend.Backend, error) {
	dev, err := open(imu, cfg, sched)
	if err != nil {
		log.Printf("imu%d: open %s %s: %v", n, imu.Bus, imu.Device, err)
		return nil, nil
	}
	h := bus.NewHandle(dev)
	defer h.Close() // no-op once a backend took the device

	slot, err := fe.Claim(n)
	if err != nil {
		return nil, err
	}
	b, err := drivers.Probe(imu.Driver, h, slot, bc)
	switch {
	case err == nil:
		log.Printf("imu%d: found %s on %s", n, b.Name(), dev)
		return b, nil
	case backend.IsNotFound(err):
		fe.Release(slot)
		log.Printf("imu%d: no IMU on %s: %v", n, dev, err)
		return nil, nil
	default:
		fe.Release(slot)
		return nil, fmt.Errorf("imu%d: %w", n, err)
	}
}

// Update runs one consumer step on every backend and returns the ones
// that published.
func (r *Rig) Update() []backend.Backend {
	var updated []backend.Backend
	for _, b := range r.Backends {
		if b.Update() {
			updated = append(updated, b)
		}
	}
	return updated
}

// Backend returns the backend publishing into instance n.
func (r *Rig) Backend(n int) (backend.Backend, backend.Config, bool) {
	for i, b := range r.Backends {
		if b.Instance() == n {
			return b, r.Configs[i], true
		}
	}
	return nil, backend.Config{}, false
}

// PublishRate returns the consumer rate in Hz.
func (r *Rig) PublishRate() float64 {
	return math.Float64frombits(r.publishHz.Load())
}

// PublishInterval is the consumer period matching PublishRate.
func (r *Rig) PublishInterval() time.Duration {
	return time.Duration(float64(time.Second) / r.PublishRate())
}

// SetPublishRate changes the consumer rate at runtime. Every backend
// re-derives its filters for the new rate and PublishLoop retimes its
// ticker.
func (r *Rig) SetPublishRate(hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("publish rate must be positive, got %v", hz)
	}
	var err error
	for _, b := range r.Backends {
		err = multierr.Append(err, b.SetPublishRate(hz))
	}
	if err != nil {
		return err
	}
	r.publishHz.Store(math.Float64bits(hz))
	select {
	case r.rateChanged <- struct{}{}:
	default:
	}
	log.Printf("rig: publish rate set to %g Hz", hz)
	return nil
}

// Stop tears every backend down and returns all errors.
func (r *Rig) Stop() error {
	var err error
	for _, b := range r.Backends {
		err = multierr.Append(err, b.Stop())
	}
	return err
}

// LogStats prints the counters of every backend.
func (r *Rig) LogStats() {
	for _, b := range r.Backends {
		st := b.Stats()
		log.Printf("%s: %s published=%d skipped=%d tx_fail=%d corrupt=%d overflow=%d clipped=%d",
			b.Name(), b.Health(), st.Published, st.SkippedPublishes, st.TransactionFailures,
			st.CorruptSamples, st.Overflows, st.AccelClipped)
	}
}
