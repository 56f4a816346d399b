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

// Package replay feeds recorded signature traces to the policy engine.
package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// Record is one iteration of a recorded loop.
type Record struct {
	// Loop identifies the loop the iteration belongs to.
	Loop int `csv:"loop"`
	// Iteration is the iteration number within the loop, starting at 1.
	Iteration int `csv:"iteration"`
	// Timestamp is the time of the iteration, in seconds from the start of the trace.
	Timestamp float64 `csv:"timestamp"`
	// Rank is the local rank of the process the record belongs to.
	Rank int `csv:"rank,omitempty"`

	Time       float64        `csv:"time"`
	CPI        float64        `csv:"cpi"`
	GBS        float64        `csv:"gbs"`
	DCPower    float64        `csv:"dc_power"`
	PercMPI    float64        `csv:"perc_mpi,omitempty"`
	Gflops     float64        `csv:"gflops,omitempty"`
	IOMBS      float64        `csv:"io_mbs,omitempty"`
	AvgCPUFreq signature.Freq `csv:"avg_cpu_freq"`
	AvgIMCFreq signature.Freq `csv:"avg_imc_freq,omitempty"`
	GPUUtil    float64        `csv:"gpu_util,omitempty"`
	GPUPower   float64        `csv:"gpu_power,omitempty"`
	// MPICalls is the number of MPI calls of the process in the iteration
	// and MPITime the seconds spent in them.
	MPICalls int     `csv:"mpi_calls,omitempty"`
	MPITime  float64 `csv:"mpi_time,omitempty"`
}

// At returns the time of the iteration relative to start.
func (r *Record) At(start time.Time) time.Time {
	return start.Add(time.Duration(r.Timestamp * float64(time.Second)))
}

// Loop is the recorded iterations of a loop, in order. An iteration has
// one record per process.
type Loop struct {
	ID      int
	Records []Record
}

// Iterations returns the records of the loop grouped by iteration.
func (l *Loop) Iterations() [][]Record {
	var iterations [][]Record
	for i := 0; i < len(l.Records); {
		j := i + 1
		for j < len(l.Records) && l.Records[j].Iteration == l.Records[i].Iteration {
			j++
		}
		iterations = append(iterations, l.Records[i:j])
		i = j
	}
	return iterations
}

// Trace is a recorded sequence of loops.
type Trace struct {
	Loops []Loop
}

// Iterations returns the total number of iterations in the trace.
func (t *Trace) Iterations() int {
	count := 0
	for i := range t.Loops {
		count += len(t.Loops[i].Iterations())
	}
	return count
}

// ReadTrace reads a CSV trace. Records are grouped into loops in order of
// first appearance and sorted by iteration and rank within a loop.
func ReadTrace(r io.Reader) (*Trace, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if err == io.EOF {
			return &Trace{}, nil
		}
		return nil, errors.Wrap(err, "replay: failed to read trace header")
	}

	t := &Trace{}
	loops := map[int]int{}

	for line := 2; ; line++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "replay: invalid trace record at line %d", line)
		}
		if rec.Iteration < 1 {
			return nil, replayError("line %d: invalid iteration %d", line, rec.Iteration)
		}
		if rec.Rank < 0 || rec.MPICalls < 0 || rec.MPITime < 0 || rec.MPITime > rec.Time {
			return nil, replayError("line %d: invalid MPI statistics of rank %d", line, rec.Rank)
		}
		idx, ok := loops[rec.Loop]
		if !ok {
			idx = len(t.Loops)
			loops[rec.Loop] = idx
			t.Loops = append(t.Loops, Loop{ID: rec.Loop})
		}
		t.Loops[idx].Records = append(t.Loops[idx].Records, rec)
	}

	for _, l := range t.Loops {
		recs := l.Records
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].Iteration != recs[j].Iteration {
				return recs[i].Iteration < recs[j].Iteration
			}
			return recs[i].Rank < recs[j].Rank
		})
	}

	return t, nil
}

// LoadTrace reads the CSV trace at path.
func LoadTrace(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "replay: failed to open trace %q", path)
	}
	defer f.Close()

	return ReadTrace(f)
}

func replayError(format string, args ...interface{}) error {
	return fmt.Errorf("replay: "+format, args...)
}
