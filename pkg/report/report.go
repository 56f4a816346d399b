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

// Package report delivers loop signatures and policy events to report sinks.
// Report failures are logged and never affect policy decisions.
package report

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// EventKind is the type of a reported policy event.
type EventKind string

const (
	// EventPolicyFreq reports the average CPU frequency selected by the policy (kHz).
	EventPolicyFreq EventKind = "policy-freq"
	// EventMaxTries reports a loop the policy gave up on, with the number of tries.
	EventMaxTries EventKind = "max-tries"
	// EventPhaseChanged reports the start of a new application phase.
	EventPhaseChanged EventKind = "phase-changed"
	// EventEnergySavings reports the estimated energy savings (percent).
	EventEnergySavings EventKind = "energy-savings"
	// EventActuationFailed reports a frequency selection the daemon did not confirm.
	EventActuationFailed EventKind = "actuation-failed"
)

// Sink receives reports.
type Sink interface {
	// Name returns the name of the sink.
	Name() string
	// ReportLoop reports the signature of a loop after the given iterations.
	ReportLoop(sig *signature.Signature, iterations int) error
	// ReportEvent reports a policy event.
	ReportEvent(kind EventKind, value float64) error
	// Close flushes and releases the sink.
	Close() error
}

var log = logger.NewLogger("report")

// Multi fans reports out to a number of sinks.
type Multi struct {
	sync.Mutex
	sinks []Sink
	warn  logger.Logger
}

var _ Sink = &Multi{}

// NewMulti creates a sink reporting to all the given sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{
		sinks: sinks,
		warn:  logger.RateLimit(log, logger.Interval(opt.ErrorInterval.Duration())),
	}
}

// Add adds a sink.
func (m *Multi) Add(s Sink) {
	m.Lock()
	defer m.Unlock()
	m.sinks = append(m.sinks, s)
}

// Name implements Sink.
func (m *Multi) Name() string {
	return "multi"
}

// ReportLoop reports a loop to all sinks. Failed sinks are logged.
func (m *Multi) ReportLoop(sig *signature.Signature, iterations int) error {
	return m.each(func(s Sink) error { return s.ReportLoop(sig, iterations) })
}

// ReportEvent reports an event to all sinks. Failed sinks are logged.
func (m *Multi) ReportEvent(kind EventKind, value float64) error {
	return m.each(func(s Sink) error { return s.ReportEvent(kind, value) })
}

// Close closes all sinks.
func (m *Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}

func (m *Multi) each(fn func(Sink) error) error {
	m.Lock()
	defer m.Unlock()

	var errs *multierror.Error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			m.warn.Warn("report sink %s failed: %v", s.Name(), err)
			errs = multierror.Append(errs, reportError("%s: %v", s.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

func reportError(format string, args ...interface{}) error {
	return fmt.Errorf("report: "+format, args...)
}
