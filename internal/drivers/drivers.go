// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package drivers maps driver names to chip variant probes.
package drivers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/inertial_backend/internal/backend"
	"github.com/relabs-tech/inertial_backend/internal/bus"
	"github.com/relabs-tech/inertial_backend/internal/drivers/invensense"
	"github.com/relabs-tech/inertial_backend/internal/drivers/lsm6dsx"
	"github.com/relabs-tech/inertial_backend/internal/frontend"
)

// Auto tries every known variant in order.
const Auto = "auto"

// ProbeFunc is the construction path of one chip variant.
type ProbeFunc func(h *bus.Handle, slot *frontend.Slot, cfg backend.Config) (backend.Backend, error)

var variants = []struct {
	name  string
	probe ProbeFunc
}{
	{"invensense", invensense.Probe},
	{"lsm6dsx", lsm6dsx.Probe},
}

// Names lists the known variants in probe order.
func Names() []string {
	out := make([]string, len(variants))
	for i, v := range variants {
		out[i] = v.name
	}
	return out
}

// Lookup returns the probe for a variant name.
func Lookup(name string) (ProbeFunc, bool) {
	for _, v := range variants {
		if v.name == name {
			return v.probe, true
		}
	}
	return nil, false
}

// Probe runs the named variant's probe, or every variant in turn for
// Auto. A variant that reports ErrNotFound leaves the device in the
// handle for the next one; any other error ends the search.
func Probe(name string, h *bus.Handle, slot *frontend.Slot, cfg backend.Config) (backend.Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" && name != Auto {
		probe, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown IMU driver %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		return probe(h, slot, cfg)
	}

	var notFound []error
	for _, v := range variants {
		b, err := v.probe(h, slot, cfg)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, backend.ErrNotFound) {
			return nil, err
		}
		notFound = append(notFound, err)
	}
	return nil, errors.Join(notFound...)
}
