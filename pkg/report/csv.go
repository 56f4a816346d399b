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
	"encoding/csv"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// Record is a row of a CSV report. Loop rows carry a signature, event rows
// a value.
type Record struct {
	Timestamp  time.Time      `csv:"timestamp"`
	Kind       string         `csv:"kind"`
	Iterations int            `csv:"iterations,omitempty"`
	Time       float64        `csv:"time,omitempty"`
	CPI        float64        `csv:"cpi,omitempty"`
	GBS        float64        `csv:"gbs,omitempty"`
	DCPower    float64        `csv:"dc_power,omitempty"`
	PercMPI    float64        `csv:"perc_mpi,omitempty"`
	Gflops     float64        `csv:"gflops,omitempty"`
	AvgCPUFreq signature.Freq `csv:"avg_cpu_freq,omitempty"`
	AvgIMCFreq signature.Freq `csv:"avg_imc_freq,omitempty"`
	Value      float64        `csv:"value,omitempty"`
}

// loopKind is the kind of loop rows.
const loopKind = "loop"

// CSVSink writes reports as CSV rows.
type CSVSink struct {
	sync.Mutex
	closer io.Closer
	w      *csv.Writer
	enc    *csvutil.Encoder
	now    func() time.Time
}

var _ Sink = &CSVSink{}

// NewCSVSink creates a sink writing to w.
func NewCSVSink(w io.Writer) *CSVSink {
	cw := csv.NewWriter(w)
	s := &CSVSink{
		w:   cw,
		enc: csvutil.NewEncoder(cw),
		now: time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenCSVSink creates a sink writing to the file at path.
func OpenCSVSink(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "report: failed to open CSV report %q", path)
	}
	return NewCSVSink(f), nil
}

// Name implements Sink.
func (s *CSVSink) Name() string {
	return "csv"
}

// ReportLoop writes a loop row.
func (s *CSVSink) ReportLoop(sig *signature.Signature, iterations int) error {
	return s.write(Record{
		Kind:       loopKind,
		Iterations: iterations,
		Time:       sig.Time,
		CPI:        sig.CPI,
		GBS:        sig.GBS,
		DCPower:    sig.DCPower,
		PercMPI:    sig.PercMPI,
		Gflops:     sig.Gflops,
		AvgCPUFreq: sig.AvgCPUFreq,
		AvgIMCFreq: sig.AvgIMCFreq,
	})
}

// ReportEvent writes an event row.
func (s *CSVSink) ReportEvent(kind EventKind, value float64) error {
	return s.write(Record{Kind: string(kind), Value: value})
}

func (s *CSVSink) write(r Record) error {
	s.Lock()
	defer s.Unlock()

	r.Timestamp = s.now()
	if err := s.enc.Encode(r); err != nil {
		return errors.Wrap(err, "failed to encode CSV record")
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes the sink and closes the underlying writer if it is closable.
func (s *CSVSink) Close() error {
	s.Lock()
	defer s.Unlock()

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
