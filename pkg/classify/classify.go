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

package classify

import (
	"github.com/intel/node-energy-policy/pkg/signature"
)

// Phase is the execution phase of an application as judged from a signature.
type Phase int

const (
	// CompBound is a computation dominated phase.
	CompBound Phase = iota
	// MemBound is a compute phase limited by memory bandwidth.
	MemBound
	// MPIBound is a communication dominated phase.
	MPIBound
	// IOBound is an I/O dominated phase.
	IOBound
	// BusyWaiting is a phase spinning in blocking calls.
	BusyWaiting
	// CPUGPUMixed is a phase where GPU activity dominates the node.
	CPUGPUMixed
)

var phaseNames = map[Phase]string{
	CompBound:   "comp-bound",
	MemBound:    "mem-bound",
	MPIBound:    "mpi-bound",
	IOBound:     "io-bound",
	BusyWaiting: "busy-waiting",
	CPUGPUMixed: "cpu-gpu-mixed",
}

// String returns the name of the phase.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Flags are the secondary, independent boundness signals of a signature.
type Flags struct {
	CPUBound    bool
	MemoryBound bool
}

// Classify maps a signature to its phase. ncpus is the number of CPUs the
// signature was collected on and scales the per-CPU I/O threshold.
func Classify(sig *signature.Signature, ncpus int, t Thresholds) Phase {
	var phase Phase

	// network vs I/O: I/O only wins if its throughput is over the threshold
	network := IsNetworkBound(sig, t)
	io := IsIOBound(sig, ncpus, t)
	switch {
	case io:
		phase = IOBound
	case network:
		phase = MPIBound
	default:
		phase = CompBound
	}

	busy := IsBusyWaiting(sig, t)
	if IsGPUBound(sig, t) && !busy {
		return CPUGPUMixed
	}

	if busy && (phase == CompBound || phase == MPIBound) {
		return BusyWaiting
	}

	if phase == CompBound && IsMemBound(sig, t) {
		return MemBound
	}

	return phase
}

// Bounds returns the CPU and memory boundness flags of a signature.
func Bounds(sig *signature.Signature, t Thresholds) Flags {
	return Flags{
		CPUBound:    IsCPUBound(sig, t),
		MemoryBound: IsMemBound(sig, t),
	}
}

// IsNetworkBound checks if the fraction of time spent in MPI is over the threshold.
func IsNetworkBound(sig *signature.Signature, t Thresholds) bool {
	return sig.PercMPI*100.0 >= t.NetworkBoundPercMPI
}

// IsIOBound checks if the I/O throughput is over the threshold.
func IsIOBound(sig *signature.Signature, ncpus int, t Thresholds) bool {
	if t.IOBoundMBS <= 0 {
		return false
	}
	th := t.IOBoundMBS
	if t.IOPerCPU && ncpus > 0 {
		th *= float64(ncpus)
	}
	return sig.IOMBS >= th
}

// IsBusyWaiting checks if the signature looks like spinning: low CPI, low
// memory traffic and almost no floating point work.
func IsBusyWaiting(sig *signature.Signature, t Thresholds) bool {
	return sig.CPI < t.BusyCPI && sig.GBS < t.BusyGBS && sig.Gflops < t.BusyGflops
}

// IsGPUBound checks if any GPU utilization is over the threshold.
func IsGPUBound(sig *signature.Signature, t Thresholds) bool {
	for _, g := range sig.GPUs {
		if g.Util > t.GPUBoundUtil {
			return true
		}
	}
	return false
}

// IsGPUIdle checks if the signature has GPUs and none of them is in use.
func IsGPUIdle(sig *signature.Signature) bool {
	if len(sig.GPUs) == 0 {
		return false
	}
	for _, g := range sig.GPUs {
		if g.Util > 0 {
			return false
		}
	}
	return true
}

// IsCPUBound checks the compute-bound predicate.
func IsCPUBound(sig *signature.Signature, t Thresholds) bool {
	return sig.CPI <= t.CPUBoundCPI && sig.GBS <= t.CPUBoundGBS
}

// IsMemBound checks the memory-bound predicate.
func IsMemBound(sig *signature.Signature, t Thresholds) bool {
	return sig.CPI >= t.MemBoundCPI && sig.GBS >= t.MemBoundGBS
}
