// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/drivers/invensense"
	"github.com/relabs-tech/inertial_backend/internal/filter"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
	"github.com/relabs-tech/inertial_backend/internal/orientation"
)

// RunMockConsole drives one backend on a simulated device and prints what
// it publishes. No hardware, broker or config file is needed.
func RunMockConsole() error {
	sched := bus.NewScheduler(nil)
	fe := frontend.New(1)
	slot, err := fe.Claim(0)
	if err != nil {
		return err
	}
	b, err := invensense.Probe(bus.NewHandle(bus.NewSimulated(sched)), slot, backend.Config{
		SampleRateHz:  1000,
		PublishRateHz: 10,
		AccelFilter:   filter.TwoPole,
		AccelCutoffHz: 2,
		Clock:         sched.Clock(),
	})
	if err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			return nil
		case <-ticker.C:
		}
		if !b.Update() {
			continue
		}
		s, _ := fe.Latest(0)
		pose := orientation.PoseFromAccel(s.Accel)
		fmt.Printf(
			"ROLL=%6.2f  PITCH=%6.2f  |a|=%5.2f  gx=%6.3f gy=%6.3f gz=%6.3f  n=%d\n",
			pose.Roll, pose.Pitch, s.Accel.Norm(), s.Gyro.X, s.Gyro.Y, s.Gyro.Z, s.Count,
		)
	}
}
