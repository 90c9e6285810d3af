// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package invensense drives the MPU6000/MPU9250/ICM2060x accel+gyro family.
package invensense

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/imu"
)

// Register map, shared by every chip in the family.
const (
	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXoutH  = 0x3B
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	pwrReset    = 0x80
	pwrClkPLL   = 0x01
	dlpf184Hz   = 0x01
	extSyncAccZ = 7 << 3 // FSYNC latched into ACCEL_ZOUT_L bit 0
	gyroFS2000  = 3 << 3
	accelFS8g   = 2 << 3

	frameSize    = 14
	internalRate = 1000.0 // Hz with the DLPF enabled

	accelLSBPerG   = 4096.0
	gyroLSBPerDegS = 16.4
)

const variant = "invensense"

var chips = map[byte]string{
	0x68: "mpu6000",
	0x71: "mpu9250",
	0xAF: "icm20608",
	0x12: "icm20602",
}

// resetDelay is how long the chip needs after a device reset.
var resetDelay = 100 * time.Millisecond

// Nominal is the LSB to SI conversion for the configured full-scale ranges.
var Nominal = backend.Sensitivity{
	Accel:      9.80665 / accelLSBPerG,
	Gyro:       (1 / gyroLSBPerDegS) * math.Pi / 180,
	TempScale:  1 / 333.87,
	TempOffset: 21,
	ClipLimit:  math.MaxInt16,
}

// Backend is an Invensense chip behind the shared backend engine.
type Backend struct {
	*backend.Core
	chip string
}

// Chip returns the identified part name.
func (b *Backend) Chip() string { return b.chip }

// Probe identifies an Invensense chip on the handle's device. On a match it
// configures the chip and takes ownership of the device.
func Probe(h *bus.Handle, slot *frontend.Slot, cfg backend.Config) (backend.Backend, error) {
	dev := h.Peek()
	if dev == nil {
		return nil, fmt.Errorf("%s: empty bus handle: %w", variant, backend.ErrNotFound)
	}

	id := make([]byte, 1)
	if err := dev.ReadRegisters(regWhoAmI, id); err != nil {
		return nil, fmt.Errorf("%s: read WHO_AM_I on %s: %w: %w", variant, dev, backend.ErrNotFound, err)
	}
	chip, ok := chips[id[0]]
	if !ok {
		return nil, fmt.Errorf("%s: unexpected WHO_AM_I 0x%02X on %s: %w", variant, id[0], dev, backend.ErrNotFound)
	}

	cfg = cfg.WithDefaults()
	core, err := backend.NewCore(chip, dev, decoder{extSync: cfg.ExtSync}, slot, cfg, Nominal)
	if err != nil {
		return nil, err
	}
	if err := configure(dev, cfg); err != nil {
		return nil, fmt.Errorf("%s: configure %s on %s: %w", variant, chip, dev, err)
	}
	h.Take()
	return &Backend{Core: core, chip: chip}, nil
}

func configure(dev bus.Device, cfg backend.Config) error {
	if err := dev.WriteRegister(regPwrMgmt1, pwrReset); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	time.Sleep(resetDelay)

	conf := byte(dlpf184Hz)
	if cfg.ExtSync {
		conf |= extSyncAccZ
	}
	writes := []struct {
		reg, val byte
		what     string
	}{
		{regPwrMgmt1, pwrClkPLL, "clock source"},
		{regConfig, conf, "config"},
		{regSmplrtDiv, sampleDivider(cfg.SampleRateHz), "sample rate"},
		{regGyroConfig, gyroFS2000, "gyro range"},
		{regAccelConfig, accelFS8g, "accel range"},
	}
	for _, w := range writes {
		if err := dev.WriteRegister(w.reg, w.val); err != nil {
			return fmt.Errorf("%s: %w", w.what, err)
		}
	}
	return nil
}

// sampleDivider returns SMPLRT_DIV for the closest rate at or above hz.
func sampleDivider(hz float64) byte {
	if hz <= 0 || hz >= internalRate {
		return 0
	}
	div := math.Floor(internalRate/hz) - 1
	return byte(math.Min(math.Max(div, 0), 255))
}

// decoder reads ACCEL_XOUT_H..GYRO_ZOUT_L: accel, temp, gyro, big-endian.
type decoder struct {
	extSync bool
}

func (decoder) Register() byte { return regAccelXoutH }
func (decoder) Size() int      { return frameSize }

func (d decoder) Decode(b []byte) (imu.RawSample, error) {
	if len(b) != frameSize {
		return imu.RawSample{}, fmt.Errorf("%s: frame of %d bytes, want %d", variant, len(b), frameSize)
	}
	var s imu.RawSample
	for i := 0; i < 3; i++ {
		s.Accel[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
		s.Gyro[i] = int16(binary.BigEndian.Uint16(b[8+2*i:]))
	}
	s.Temp = int16(binary.BigEndian.Uint16(b[6:]))
	if d.extSync {
		s.FSync = s.Accel[imu.Z]&1 != 0
		s.Accel[imu.Z] &^= 1
	}
	return s, nil
}
