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

package classify

import (
	"time"

	logger "github.com/intel/node-energy-policy/pkg/log"
)

var log = logger.NewLogger("classify")

// Tracker keeps the active phase and the time accumulated in each phase.
// Every phase change goes through Update so the accumulated times stay
// consistent with the sequence of notifications.
type Tracker struct {
	current  Phase
	started  bool
	elapsed  map[Phase]time.Duration
	switches int
}

// NewTracker creates a phase tracker starting in CompBound.
func NewTracker() *Tracker {
	return &Tracker{
		current: CompBound,
		elapsed: make(map[Phase]time.Duration),
	}
}

// Update accounts elapsed time to the phase and returns true if the phase changed.
func (t *Tracker) Update(phase Phase, elapsed time.Duration) bool {
	changed := t.started && phase != t.current
	if changed {
		log.Debug("phase change %s -> %s", t.current, phase)
		t.switches++
	}
	t.started = true
	t.current = phase
	if elapsed > 0 {
		t.elapsed[phase] += elapsed
	}
	return changed
}

// Current returns the active phase.
func (t *Tracker) Current() Phase {
	return t.current
}

// Reset forces the active phase without a change notification.
func (t *Tracker) Reset(phase Phase) {
	t.current = phase
}

// Elapsed returns the time accumulated in the given phase.
func (t *Tracker) Elapsed(phase Phase) time.Duration {
	return t.elapsed[phase]
}

// Switches returns the number of phase changes seen.
func (t *Tracker) Switches() int {
	return t.switches
}
