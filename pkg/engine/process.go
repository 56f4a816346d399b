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

package engine

import (
	"time"

	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// Process is a process of the job on the node. It tracks the MPI calls of
// the process and publishes its state to the shared node state.
type Process struct {
	handle  *shared.ProcessHandle
	tracker *mpistats.Tracker
	reader  mpistats.Reader
}

// NewProcess creates the process of the given shared state slot, tracking
// MPI calls as configured.
func NewProcess(handle *shared.ProcessHandle, opts mpistats.Options) *Process {
	return &Process{
		handle:  handle,
		tracker: mpistats.NewTracker(opts.Enabled, mpistats.NewThrottle(opts.Throttle)),
	}
}

// Rank returns the local rank of the process.
func (p *Process) Rank() int {
	return p.handle.Rank()
}

// Tracker returns the MPI call tracker of the process.
func (p *Process) Tracker() *mpistats.Tracker {
	return p.tracker
}

// start resets the MPI statistics of the process.
func (p *Process) start(now time.Time) {
	p.tracker.Start(now)
	p.reader = mpistats.Reader{}
}

// publish publishes sig with the MPI statistics accumulated since the
// previous publish.
func (p *Process) publish(sig *signature.Signature) {
	info, types := p.reader.Read(p.tracker.Info(), p.tracker.CallTypes())
	p.handle.Publish(sig, info, types)
}
