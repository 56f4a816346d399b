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
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/require"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

type failingSink struct {
	loops  int
	events int
}

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) ReportLoop(*signature.Signature, int) error {
	f.loops++
	return reportError("disk full")
}

func (f *failingSink) ReportEvent(EventKind, float64) error {
	f.events++
	return reportError("disk full")
}

func (f *failingSink) Close() error { return nil }

func testSignature() *signature.Signature {
	return &signature.Signature{
		Time:       0.5,
		CPI:        0.8,
		GBS:        12.5,
		DCPower:    310,
		PercMPI:    0.1,
		Gflops:     120,
		AvgCPUFreq: 2400000,
		AvgIMCFreq: 2000000,
	}
}

func TestCSVSink(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewCSVSink(buf)
	at := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	require.NoError(t, s.ReportLoop(testSignature(), 40))
	require.NoError(t, s.ReportEvent(EventPolicyFreq, 2000000))
	require.NoError(t, s.Close())

	dec, err := csvutil.NewDecoder(csv.NewReader(buf))
	require.NoError(t, err)
	records := []Record{}
	require.NoError(t, dec.Decode(&records))

	require.Equal(t, []Record{
		{
			Timestamp:  at,
			Kind:       "loop",
			Iterations: 40,
			Time:       0.5,
			CPI:        0.8,
			GBS:        12.5,
			DCPower:    310,
			PercMPI:    0.1,
			Gflops:     120,
			AvgCPUFreq: 2400000,
			AvgIMCFreq: 2000000,
		},
		{
			Timestamp: at,
			Kind:      string(EventPolicyFreq),
			Value:     2000000,
		},
	}, records)
}

func TestOpenCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	s, err := OpenCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.ReportEvent(EventMaxTries, 3))
	require.NoError(t, s.Close())

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(blob), "max-tries")

	_, err = OpenCSVSink(filepath.Join(t.TempDir(), "missing", "report.csv"))
	require.Error(t, err)
}

func TestMulti(t *testing.T) {
	buf := &bytes.Buffer{}
	bad := &failingSink{}
	m := NewMulti(NewLogSink(logger.NewLogger("report-test")), bad)
	m.Add(NewCSVSink(buf))

	err := m.ReportLoop(testSignature(), 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failing")

	err = m.ReportEvent(EventEnergySavings, 7.5)
	require.Error(t, err)

	require.Equal(t, 1, bad.loops)
	require.Equal(t, 1, bad.events)
	require.Contains(t, buf.String(), "energy-savings")
	require.NoError(t, m.Close())
}

func TestNewSinks(t *testing.T) {
	saved := *opt
	defer func() { *opt = saved }()

	opt.Log = false
	opt.CSV = filepath.Join(t.TempDir(), "out.csv")
	m, err := NewSinks()
	require.NoError(t, err)
	require.Len(t, m.sinks, 1)
	require.Equal(t, "csv", m.sinks[0].Name())
	require.NoError(t, m.Close())

	opt.CSV = filepath.Join(t.TempDir(), "missing", "out.csv")
	_, err = NewSinks()
	require.Error(t, err)
}
