// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mpistats

import (
	"math"
	"time"

	"github.com/intel/node-energy-policy/pkg/metricsring"
)

// Throttle down-samples MPI call monitoring under high call rates. The call
// rate is re-evaluated once per period: at or above SampleRate only one in N
// calls is monitored, at or above DisableRate monitoring is off until a later
// period sees the rate drop again.
type Throttle struct {
	cfg      ThrottleConfig
	rates    metricsring.SampleBuffer
	calls    uint64
	admitted uint64
	start    time.Time
	every    uint64
	disabled bool
}

// NewThrottle creates a throttle with the given configuration.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	window := cfg.Window
	if window < 1 {
		window = 1
	}
	return &Throttle{
		cfg:   cfg,
		rates: metricsring.NewMetricsRing(window),
		every: 1,
	}
}

// Admit accounts for a call at the given time and returns true if it should
// be monitored.
func (t *Throttle) Admit(now time.Time) bool {
	if t.start.IsZero() {
		t.start = now
	}
	t.calls++
	if elapsed := now.Sub(t.start); elapsed >= t.cfg.Period.Duration() && elapsed > 0 {
		t.evaluate(float64(t.calls)/elapsed.Seconds(), now)
	}

	if t.disabled {
		return false
	}
	t.admitted++
	return t.admitted%t.every == 0
}

func (t *Throttle) evaluate(rate float64, now time.Time) {
	t.rates.Push(rate, now)
	t.calls = 0
	t.start = now

	avg := t.rates.Mean()
	switch {
	case t.cfg.DisableRate > 0 && avg >= t.cfg.DisableRate:
		if !t.disabled {
			log.Info("MPI call rate %.0f/s, disabling call monitoring", avg)
		}
		t.disabled = true
		t.every = 1
	case t.cfg.SampleRate > 0 && avg >= t.cfg.SampleRate:
		t.disabled = false
		t.every = uint64(math.Ceil(avg / t.cfg.SampleRate))
		log.Debug("MPI call rate %.0f/s, monitoring 1 in %d calls", avg, t.every)
	default:
		if t.disabled {
			log.Info("MPI call rate %.0f/s, enabling call monitoring", avg)
		}
		t.disabled = false
		t.every = 1
	}
	t.admitted = 0
}

// Disabled returns true if monitoring is currently off.
func (t *Throttle) Disabled() bool {
	return t.disabled
}

// Every returns the current sampling ratio, one in N calls.
func (t *Throttle) Every() uint64 {
	return t.every
}
