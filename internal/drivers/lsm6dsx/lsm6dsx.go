// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lsm6dsx drives the ST LSM6DS3/LSM6DSL/LSM6DSO accel+gyro family.
package lsm6dsx

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

const (
	regWhoAmI  = 0x0F
	regCtrl1XL = 0x10
	regCtrl2G  = 0x11
	regCtrl3C  = 0x12
	regOutTemp = 0x20

	ctrl3Reset     = 0x01
	ctrl3BDUInc    = 0x44 // block data update, register auto-increment
	accelFS8g      = 0x0C // FS_XL = 11
	gyroFS2000     = 0x0C // FS_G = 11
	frameSize      = 14
	tempLSBPerC    = 256.0
	tempOffsetC    = 25.0
	accelMgPerLSB  = 0.244
	gyroMdpsPerLSB = 70.0
)

const variant = "lsm6dsx"

var chips = map[byte]string{
	0x69: "lsm6ds3",
	0x6A: "lsm6dsl",
	0x6C: "lsm6dso",
}

// odrs maps output data rates to their CTRL1_XL/CTRL2_G ODR field.
var odrs = []struct {
	hz   float64
	code byte
}{
	{12.5, 0x1}, {26, 0x2}, {52, 0x3}, {104, 0x4}, {208, 0x5},
	{416, 0x6}, {833, 0x7}, {1660, 0x8}, {3330, 0x9}, {6660, 0xA},
}

var resetDelay = 10 * time.Millisecond

// Nominal is the LSB to SI conversion for ±8 g and ±2000 °/s.
var Nominal = backend.Sensitivity{
	Accel:      accelMgPerLSB / 1000 * 9.80665,
	Gyro:       gyroMdpsPerLSB / 1000 * math.Pi / 180,
	TempScale:  1 / tempLSBPerC,
	TempOffset: tempOffsetC,
	ClipLimit:  math.MaxInt16,
}

// Backend is an LSM6DSx chip behind the shared backend engine.
type Backend struct {
	*backend.Core
	chip string
}

func (b *Backend) Chip() string { return b.chip }

// Probe identifies an LSM6DSx on the handle's device, configures it and
// takes ownership on a match.
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
	if cfg.ExtSync {
		return nil, fmt.Errorf("%s: %s has no frame-sync input", variant, chip)
	}

	cfg = cfg.WithDefaults()
	core, err := backend.NewCore(chip, dev, decoder{}, slot, cfg, Nominal)
	if err != nil {
		return nil, err
	}

	if err := dev.WriteRegister(regCtrl3C, ctrl3Reset); err != nil {
		return nil, fmt.Errorf("%s: reset %s: %w", variant, chip, err)
	}
	time.Sleep(resetDelay)
	odr := odrCode(cfg.SampleRateHz) << 4
	for _, w := range [][2]byte{
		{regCtrl3C, ctrl3BDUInc},
		{regCtrl1XL, odr | accelFS8g},
		{regCtrl2G, odr | gyroFS2000},
	} {
		if err := dev.WriteRegister(w[0], w[1]); err != nil {
			return nil, fmt.Errorf("%s: configure %s register 0x%02X: %w", variant, chip, w[0], err)
		}
	}
	h.Take()
	return &Backend{Core: core, chip: chip}, nil
}

// odrCode picks the slowest output data rate not below hz.
func odrCode(hz float64) byte {
	for _, o := range odrs {
		if o.hz >= hz {
			return o.code
		}
	}
	return odrs[len(odrs)-1].code
}

// decoder reads OUT_TEMP_L..OUTZ_H_XL: temp, gyro, accel, little-endian.
type decoder struct{}

func (decoder) Register() byte { return regOutTemp }
func (decoder) Size() int      { return frameSize }

func (decoder) Decode(b []byte) (imu.RawSample, error) {
	if len(b) != frameSize {
		return imu.RawSample{}, fmt.Errorf("%s: frame of %d bytes, want %d", variant, len(b), frameSize)
	}
	var s imu.RawSample
	s.Temp = int16(binary.LittleEndian.Uint16(b))
	for i := 0; i < 3; i++ {
		s.Gyro[i] = int16(binary.LittleEndian.Uint16(b[2+2*i:]))
		s.Accel[i] = int16(binary.LittleEndian.Uint16(b[8+2*i:]))
	}
	return s, nil
}
