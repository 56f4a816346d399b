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
	"time"
)

// Tracker accumulates the MPI statistics of a single process. It is driven
// by the call boundaries of that process only and is not safe for concurrent
// use.
type Tracker struct {
	enabled  bool
	throttle *Throttle
	info     Info
	types    CallTypes
	noMPI    time.Time // end of the last call boundary
	callInit time.Time // start of the call in flight
	inCall   bool
}

// NewTracker creates a tracker. A nil throttle monitors every call.
func NewTracker(enabled bool, throttle *Throttle) *Tracker {
	return &Tracker{
		enabled:  enabled,
		throttle: throttle,
	}
}

// Start resets the statistics at application start.
func (t *Tracker) Start(now time.Time) {
	t.info = Info{}
	t.types = CallTypes{}
	t.noMPI = now
	t.inCall = false
}

// Enabled returns true if the tracker is monitoring calls.
func (t *Tracker) Enabled() bool {
	return t.enabled && (t.throttle == nil || !t.throttle.Disabled())
}

// CallInit marks the start of an MPI call. The time since the previous call
// boundary is accounted as execution outside MPI.
func (t *Tracker) CallInit(kind CallKind, now time.Time) {
	if !t.enabled {
		return
	}
	if t.throttle != nil && !t.throttle.Admit(now) {
		t.inCall = false
		return
	}
	if t.noMPI.IsZero() {
		t.noMPI = now
	}
	t.info.ExecTime += sinceOrZero(now, t.noMPI)
	t.callInit = now
	t.inCall = true
}

// CallEnd marks the end of an MPI call started with CallInit.
func (t *Tracker) CallEnd(kind CallKind, now time.Time) {
	if !t.enabled || !t.inCall {
		return
	}
	t.inCall = false
	elapsed := sinceOrZero(now, t.callInit)

	if kind.IsBlocking() {
		if elapsed > t.types.MaxSyncBlock {
			t.types.MaxSyncBlock = elapsed
		}
		t.types.Blocking++
		t.types.TimeBlocking += elapsed
		switch nb := kind &^ Blocking; {
		case nb&Collective != 0:
			t.types.Collective++
			t.types.TimeCollective += elapsed
		case nb&Synchronization != 0:
			t.types.Sync++
			t.types.TimeSync += elapsed
		default:
			t.types.SyncBlock++
			t.types.TimeSyncBlock += elapsed
		}
	}

	t.info.MPITime += elapsed
	t.info.ExecTime += elapsed
	t.info.TotalCalls++
	t.noMPI = now
}

// Info returns the cumulative statistics with an up to date MPI percentage.
func (t *Tracker) Info() Info {
	i := t.info
	i.UpdatePerc()
	return i
}

// CallTypes returns the cumulative per category breakdown.
func (t *Tracker) CallTypes() CallTypes {
	c := t.types
	c.Calls = t.info.TotalCalls
	c.TimeMPI = t.info.MPITime
	c.TimePeriod = t.info.ExecTime
	return c
}

// Reader diffs cumulative statistics against the snapshot of the previous read.
type Reader struct {
	last      Info
	lastTypes CallTypes
}

// Read returns the statistics accumulated since the previous Read.
func (r *Reader) Read(current Info, types CallTypes) (Info, CallTypes) {
	d := Diff(current, r.last)
	dt := DiffTypes(types, r.lastTypes)
	r.last = current
	r.last.UpdatePerc()
	r.lastTypes = types
	return d, dt
}

func sinceOrZero(now, then time.Time) time.Duration {
	if d := now.Sub(then); d > 0 {
		return d
	}
	return 0
}
