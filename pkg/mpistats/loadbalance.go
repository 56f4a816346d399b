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
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// DefaultLBThreshold is the standard deviation of the MPI percentages
	// above which a node is unbalanced.
	DefaultLBThreshold = 8.0
	// DefaultTimeRatioThreshold is the average to maximum computation time
	// ratio below which a node is unbalanced.
	DefaultTimeRatioThreshold = 0.9
	// DefaultProximityFactor scales the distance to the median in the
	// critical path selection.
	DefaultProximityFactor = 5.0
	// MagnitudeTh is the relative magnitude change of the MPI percentages
	// considered an MPI profile change.
	MagnitudeTh = 0.05
	// SimilarityTh is the critical path similarity below which the MPI
	// profile is considered changed.
	SimilarityTh = 0.5
)

// ErrTooFewProcesses is returned when load balance is evaluated for a single process.
var ErrTooFewProcesses = errors.New("mpi: load balance needs at least two processes")

// LoadBalanceConfig configures the load balance evaluation.
type LoadBalanceConfig struct {
	// Threshold is the standard deviation above which the node is unbalanced.
	Threshold float64 `json:"threshold"`
	// NodeTiming enables the computation time ratio check.
	NodeTiming bool `json:"nodeTiming,omitempty"`
	// TimeRatioThreshold is the avg/max computation time ratio below which
	// the node is unbalanced.
	TimeRatioThreshold float64 `json:"timeRatioThreshold"`
}

// DefaultLoadBalanceConfig returns the default load balance configuration.
func DefaultLoadBalanceConfig() LoadBalanceConfig {
	return LoadBalanceConfig{
		Threshold:          DefaultLBThreshold,
		TimeRatioThreshold: DefaultTimeRatioThreshold,
	}
}

// LoadBalance is the result of a load balance evaluation.
type LoadBalance struct {
	Percentages []float64
	Mean        float64
	SD          float64
	Magnitude   float64
	Unbalanced  bool
}

// Summary returns the reportable summary of the evaluation.
func (lb LoadBalance) Summary() Summary {
	return Summarize(lb.Percentages, lb.Mean, lb.SD, lb.Magnitude)
}

// EvaluateLoadBalance computes the statistics of the per-process MPI
// percentages and decides if the node is unbalanced.
func EvaluateLoadBalance(infos []Info, cfg LoadBalanceConfig) (LoadBalance, error) {
	if len(infos) < 2 {
		return LoadBalance{}, ErrTooFewProcesses
	}

	percs := make([]float64, len(infos))
	for i, info := range infos {
		percs[i] = info.PercMPI
	}

	data := stats.Float64Data(percs)
	mean, err := stats.Mean(data)
	if err != nil {
		return LoadBalance{}, mpiError("failed to compute mean: %v", err)
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return LoadBalance{}, mpiError("failed to compute standard deviation: %v", err)
	}

	lb := LoadBalance{
		Percentages: percs,
		Mean:        mean,
		SD:          sd,
		Magnitude:   magnitude(percs),
		Unbalanced:  sd > cfg.Threshold,
	}

	if cfg.NodeTiming && !lb.Unbalanced {
		if ratio, ok := computeRatio(infos); ok && ratio < cfg.TimeRatioThreshold {
			lb.Unbalanced = true
		}
	}

	return lb, nil
}

// computeRatio returns the ratio of the average to the maximum time spent
// outside MPI.
func computeRatio(infos []Info) (float64, bool) {
	var total, max float64
	for _, info := range infos {
		comp := float64(subTime(info.ExecTime, info.MPITime))
		total += comp
		if comp > max {
			max = comp
		}
	}
	if max == 0 {
		return 0, false
	}
	return total / float64(len(infos)) / max, true
}

// CriticalPath is the result of the critical path selection.
type CriticalPath struct {
	// Set marks the processes on the critical path.
	Set    []bool
	Median float64
	MaxIdx int
	MinIdx int
}

// Count returns the number of processes on the critical path.
func (cp CriticalPath) Count() int {
	n := 0
	for _, in := range cp.Set {
		if in {
			n++
		}
	}
	return n
}

// SelectCriticalPath selects the processes closest to being the bottleneck.
// A process is on the critical path if its distance to the process with the
// least MPI time is below factor times its distance to the median, and it
// does not spend more than the average time in MPI.
func SelectCriticalPath(percs []float64, mean, factor float64) CriticalPath {
	cp := CriticalPath{
		Set: make([]bool, len(percs)),
	}
	if len(percs) == 0 {
		return cp
	}

	for i := 1; i < len(percs); i++ {
		if percs[i] > percs[cp.MaxIdx] {
			cp.MaxIdx = i
		}
		if percs[i] < percs[cp.MinIdx] {
			cp.MinIdx = i
		}
	}

	median, err := stats.Median(stats.Float64Data(percs))
	if err != nil {
		log.Warn("failed to compute median of MPI percentages: %v", err)
		median = mean
	}
	cp.Median = median

	min := percs[cp.MinIdx]
	for i, p := range percs {
		toMin := math.Abs(p - min)
		toMedian := math.Abs(p - median)
		if toMin < factor*toMedian && p <= mean {
			cp.Set[i] = true
		}
	}

	return cp
}

// MPIProfileChanged checks if the MPI profile of the node changed between two
// load balance evaluations. A magnitude increase beyond MagnitudeTh is a
// change. With a stable magnitude, a critical path similarity below
// SimilarityTh is a change. The similarity is returned when computed.
func MPIProfileChanged(curMag, prevMag float64, cur, prev []bool) (bool, float64) {
	if !signature.EqualWithTh(prevMag, curMag, MagnitudeTh) {
		return prevMag < curMag, 0
	}
	sim := BoolCosineSimilarity(cur, prev)
	return sim < SimilarityTh, sim
}

// CosineSimilarity returns the cosine similarity of two vectors.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	switch {
	case na == 0 && nb == 0:
		return 1
	case na == 0 || nb == 0:
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// BoolCosineSimilarity returns the cosine similarity of two indicator vectors.
func BoolCosineSimilarity(a, b []bool) float64 {
	return CosineSimilarity(indicator(a), indicator(b))
}

func indicator(v []bool) []float64 {
	f := make([]float64, len(v))
	for i, b := range v {
		if b {
			f[i] = 1
		}
	}
	return f
}

func magnitude(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Summary is the node level summary of the MPI percentages.
type Summary struct {
	Max       float64 `json:"max" csv:"max"`
	Min       float64 `json:"min" csv:"min"`
	Mean      float64 `json:"mean" csv:"mean"`
	SD        float64 `json:"sd" csv:"sd"`
	Magnitude float64 `json:"magnitude" csv:"magnitude"`
}

// Summarize creates a summary of the MPI percentages.
func Summarize(percs []float64, mean, sd, mag float64) Summary {
	s := Summary{Max: 0, Min: 100, Mean: mean, SD: sd, Magnitude: mag}
	for _, p := range percs {
		s.Max = math.Max(s.Max, p)
		s.Min = math.Min(s.Min, p)
	}
	return s
}

// String returns the summary in a single line.
func (s Summary) String() string {
	return fmt.Sprintf("max %.2f min %.2f mean %.2f sd %.2f mag %.2f", s.Max, s.Min, s.Mean, s.SD, s.Magnitude)
}
