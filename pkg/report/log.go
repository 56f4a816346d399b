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

package report

import (
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// LogSink reports to a logger.
type LogSink struct {
	logger.Logger
}

var _ Sink = &LogSink{}

// NewLogSink creates a sink logging with the given logger.
func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{Logger: l}
}

// Name implements Sink.
func (l *LogSink) Name() string {
	return "log"
}

// ReportLoop logs the loop signature.
func (l *LogSink) ReportLoop(sig *signature.Signature, iterations int) error {
	l.Info("loop: %d iterations, time %.3fs cpi %.2f gbs %.2f power %.1fW mpi %.1f%% freq %s",
		iterations, sig.Time, sig.CPI, sig.GBS, sig.DCPower, 100*sig.PercMPI, sig.AvgCPUFreq)
	return nil
}

// ReportEvent logs the event.
func (l *LogSink) ReportEvent(kind EventKind, value float64) error {
	l.Info("event %s: %.2f", kind, value)
	return nil
}

// Close implements Sink.
func (l *LogSink) Close() error {
	return nil
}
