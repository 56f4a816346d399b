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

package replay

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/intel/node-energy-policy/pkg/engine"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// Source is an engine.ProcessSignatureSource computing signatures from the
// replayed iterations pushed since the last signature. The node signature
// is the one of local rank 0.
type Source struct {
	sync.Mutex
	windows map[int][]Record
	last    map[int]signature.Signature
}

var _ engine.ProcessSignatureSource = &Source{}

// NewSource creates a replay signature source.
func NewSource() *Source {
	return &Source{
		windows: map[int][]Record{},
		last:    map[int]signature.Signature{},
	}
}

// Push adds a replayed iteration of a process.
func (s *Source) Push(r Record) {
	s.Lock()
	defer s.Unlock()
	s.windows[r.Rank] = append(s.windows[r.Rank], r)
}

// BeginSignature drops the iterations seen so far.
func (s *Source) BeginSignature(context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.reset()
	return nil
}

// ReadSignature returns the average signature of the iterations pushed
// since the last signature and starts a new window.
func (s *Source) ReadSignature(ctx context.Context) (signature.Signature, error) {
	if err := ctx.Err(); err != nil {
		return signature.Signature{}, err
	}

	s.Lock()
	defer s.Unlock()

	if len(s.windows[0]) == 0 {
		return signature.Signature{}, engine.ErrNotReady
	}

	s.last = map[int]signature.Signature{}
	for rank, window := range s.windows {
		if len(window) > 0 {
			s.last[rank] = Aggregate(window)
		}
	}
	s.reset()

	return s.last[0], nil
}

// ProcessSignature returns the signature of the process in the given local
// rank for the last ReadSignature.
func (s *Source) ProcessSignature(rank int) (signature.Signature, bool) {
	s.Lock()
	defer s.Unlock()
	sig, ok := s.last[rank]
	return sig, ok
}

func (s *Source) reset() {
	for rank := range s.windows {
		s.windows[rank] = s.windows[rank][:0]
	}
}

// Aggregate averages iteration records into a signature. The signature
// window spans the summed iteration times.
func Aggregate(records []Record) signature.Signature {
	column := func(fn func(*Record) float64) stats.Float64Data {
		data := make(stats.Float64Data, 0, len(records))
		for i := range records {
			data = append(data, fn(&records[i]))
		}
		return data
	}
	mean := func(fn func(*Record) float64) float64 {
		m, err := column(fn).Mean()
		if err != nil {
			return 0
		}
		return m
	}

	elapsed, _ := column(func(r *Record) float64 { return r.Time }).Sum()

	sig := signature.Signature{
		Time:       mean(func(r *Record) float64 { return r.Time }),
		CPI:        mean(func(r *Record) float64 { return r.CPI }),
		GBS:        mean(func(r *Record) float64 { return r.GBS }),
		DCPower:    mean(func(r *Record) float64 { return r.DCPower }),
		PercMPI:    mean(func(r *Record) float64 { return r.PercMPI }),
		Gflops:     mean(func(r *Record) float64 { return r.Gflops }),
		IOMBS:      mean(func(r *Record) float64 { return r.IOMBS }),
		AvgCPUFreq: signature.Freq(mean(func(r *Record) float64 { return float64(r.AvgCPUFreq) })),
		AvgIMCFreq: signature.Freq(mean(func(r *Record) float64 { return float64(r.AvgIMCFreq) })),
		Elapsed:    time.Duration(elapsed * float64(time.Second)),
	}

	util := mean(func(r *Record) float64 { return r.GPUUtil })
	power := mean(func(r *Record) float64 { return r.GPUPower })
	if util > 0 || power > 0 {
		sig.GPUs = []signature.GPUSignature{{Util: util, Power: power}}
	}

	return sig
}
