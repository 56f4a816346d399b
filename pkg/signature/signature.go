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

// Package signature has the value types the policy engine decides on: the
// execution signature of a measurement window, the available pstates per
// frequency domain and the frequency selection vector produced by a policy.
package signature

import (
	"fmt"
	"math"
	"time"
)

// Freq is a frequency in kHz.
type Freq uint64

// GHz returns the frequency in GHz.
func (f Freq) GHz() float64 {
	return float64(f) / 1000000.0
}

// String returns the frequency formatted in GHz.
func (f Freq) String() string {
	return fmt.Sprintf("%.2fGHz", f.GHz())
}

// GPUSignature is the per-device part of a signature.
type GPUSignature struct {
	Util    float64 `json:"util" csv:"util"`         // utilization, percent
	MemUtil float64 `json:"mem_util" csv:"mem_util"` // memory utilization, percent
	Freq    Freq    `json:"freq" csv:"freq"`
	MemFreq Freq    `json:"mem_freq" csv:"mem_freq"`
	Power   float64 `json:"power" csv:"power"` // W
}

// Signature summarizes one measurement window.
type Signature struct {
	Time         float64        `json:"time"`     // seconds per iteration
	CPI          float64        `json:"cpi"`      // cycles per instruction
	GBS          float64        `json:"gbs"`      // memory bandwidth, GB/s
	DCPower      float64        `json:"dc_power"` // node DC power, W
	PercMPI      float64        `json:"perc_mpi"` // fraction of time in MPI, [0, 1]
	AvgCPUFreq   Freq           `json:"avg_cpu_freq"`
	DefCPUFreq   Freq           `json:"def_cpu_freq"`
	AvgIMCFreq   Freq           `json:"avg_imc_freq"`
	Gflops       float64        `json:"gflops"`
	IOMBS        float64        `json:"io_mbs"`
	Instructions uint64         `json:"instructions"`
	Cycles       uint64         `json:"cycles"`
	L1Misses     uint64         `json:"l1_misses"`
	L2Misses     uint64         `json:"l2_misses"`
	L3Misses     uint64         `json:"l3_misses"`
	Elapsed      time.Duration  `json:"elapsed"` // length of the measurement window
	GPUs         []GPUSignature `json:"gpus,omitempty"`
}

// Copy returns a deep copy of the signature.
func (s *Signature) Copy() Signature {
	c := *s
	if s.GPUs != nil {
		c.GPUs = make([]GPUSignature, len(s.GPUs))
		copy(c.GPUs, s.GPUs)
	}
	return c
}

// Energy returns the energy of one iteration, in J.
func (s *Signature) Energy() float64 {
	return s.Time * s.DCPower
}

// GPUUtil returns the total utilization of all GPUs.
func (s *Signature) GPUUtil() float64 {
	total := 0.0
	for _, g := range s.GPUs {
		total += g.Util
	}
	return total
}

// Valid checks that the signature holds usable measurements.
func (s *Signature) Valid() bool {
	for _, v := range []float64{s.Time, s.CPI, s.GBS, s.DCPower} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return s.Time > 0
}

// String returns a short human readable summary of the signature.
func (s *Signature) String() string {
	return fmt.Sprintf("time %.3fs, CPI %.3f, GB/s %.2f, power %.1fW, MPI %.1f%%, avg freq %s, Gflops %.2f",
		s.Time, s.CPI, s.GBS, s.DCPower, s.PercMPI*100, s.AvgCPUFreq, s.Gflops)
}

// EqualWithTh checks if b is within a relative distance th of a.
func EqualWithTh(a, b, th float64) bool {
	if a == 0 {
		return b == 0
	}
	return math.Abs(a-b)/math.Abs(a) <= th
}
