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
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Thresholds are the administrator configurable cut-offs of the classifier.
type Thresholds struct {
	// BusyCPI, BusyGBS and BusyGflops bound the busy-waiting predicate.
	BusyCPI    float64 `json:"busyCPI"`
	BusyGBS    float64 `json:"busyGBS"`
	BusyGflops float64 `json:"busyGflops"`
	// NetworkBoundPercMPI is the percentage of time in MPI of a network bound phase.
	NetworkBoundPercMPI float64 `json:"networkBoundPercMPI"`
	// IOBoundMBS is the I/O throughput (MB/s) of an I/O bound phase.
	IOBoundMBS float64 `json:"ioBoundMBS"`
	// IOPerCPU scales IOBoundMBS by the number of CPUs.
	IOPerCPU bool `json:"ioPerCPU,omitempty"`
	// GPUBoundUtil is the GPU utilization (percent) of a GPU bound phase.
	GPUBoundUtil float64 `json:"gpuBoundUtil"`
	// CPUBoundCPI and CPUBoundGBS are the upper bounds of a compute bound signature.
	CPUBoundCPI float64 `json:"cpuBoundCPI"`
	CPUBoundGBS float64 `json:"cpuBoundGBS"`
	// MemBoundCPI and MemBoundGBS are the lower bounds of a memory bound signature.
	MemBoundCPI float64 `json:"memBoundCPI"`
	MemBoundGBS float64 `json:"memBoundGBS"`
}

// DefaultThresholds returns the default classifier thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BusyCPI:             0.5,
		BusyGBS:             1.0,
		BusyGflops:          0.1,
		NetworkBoundPercMPI: 60,
		IOBoundMBS:          10,
		GPUBoundUtil:        50,
		CPUBoundCPI:         0.6,
		CPUBoundGBS:         30,
		MemBoundCPI:         1.0,
		MemBoundGBS:         60,
	}
}

// Validate checks the thresholds for consistency.
func (t *Thresholds) Validate() error {
	var errs *multierror.Error

	positive := map[string]float64{
		"busyCPI":      t.BusyCPI,
		"busyGBS":      t.BusyGBS,
		"busyGflops":   t.BusyGflops,
		"cpuBoundCPI":  t.CPUBoundCPI,
		"cpuBoundGBS":  t.CPUBoundGBS,
		"memBoundCPI":  t.MemBoundCPI,
		"memBoundGBS":  t.MemBoundGBS,
		"gpuBoundUtil": t.GPUBoundUtil,
	}
	for _, name := range []string{"busyCPI", "busyGBS", "busyGflops", "cpuBoundCPI",
		"cpuBoundGBS", "memBoundCPI", "memBoundGBS", "gpuBoundUtil"} {
		if positive[name] <= 0 {
			errs = multierror.Append(errs, classifyError("%s must be positive, got %v", name, positive[name]))
		}
	}
	if t.NetworkBoundPercMPI <= 0 || t.NetworkBoundPercMPI > 100 {
		errs = multierror.Append(errs,
			classifyError("networkBoundPercMPI must be in (0, 100], got %v", t.NetworkBoundPercMPI))
	}
	if t.IOBoundMBS < 0 {
		errs = multierror.Append(errs, classifyError("ioBoundMBS must not be negative"))
	}
	if t.CPUBoundCPI > t.MemBoundCPI {
		errs = multierror.Append(errs,
			classifyError("cpuBoundCPI %v is above memBoundCPI %v", t.CPUBoundCPI, t.MemBoundCPI))
	}

	return errs.ErrorOrNil()
}

func classifyError(format string, args ...interface{}) error {
	return fmt.Errorf("classify: "+format, args...)
}
