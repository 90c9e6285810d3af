// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Periodic is a registered periodic callback.
type Periodic interface {
	// Stop cancels the callback and returns once no invocation is in flight.
	Stop() error
}

// Scheduler runs periodic callbacks, one goroutine per registration, on a
// clock that tests can replace with clock.NewMock().
type Scheduler struct {
	clk clock.Clock
}

// NewScheduler returns a scheduler driven by clk; nil means the wall clock.
func NewScheduler(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clk: clk}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clock.Clock { return s.clk }

// Register starts calling fn every interval. Invocations never overlap: a
// slow callback delays the next tick instead of running concurrently.
func (s *Scheduler) Register(interval time.Duration, fn func()) (Periodic, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("bus: periodic interval must be positive, got %v", interval)
	}
	if fn == nil {
		return nil, fmt.Errorf("bus: periodic callback is nil")
	}
	p := &periodic{
		ticker: s.clk.Ticker(interval),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run(fn)
	return p, nil
}

type periodic struct {
	ticker   *clock.Ticker
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (p *periodic) run(fn func()) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			select {
			case <-p.done:
				return
			default:
			}
			fn()
		}
	}
}

func (p *periodic) Stop() error {
	p.stopOnce.Do(func() {
		p.ticker.Stop()
		close(p.done)
	})
	p.wg.Wait()
	return nil
}
