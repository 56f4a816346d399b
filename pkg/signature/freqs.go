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

package signature

import (
	"fmt"
	"strings"
)

// IMCRange is an uncore frequency range as a pair of pstates. Max is the
// upper frequency bound, so Max <= Min as pstate indexes.
type IMCRange struct {
	Max int `json:"max"`
	Min int `json:"min"`
}

// NodeFreqs is a frequency selection vector. CPU holds one frequency per
// process until it is mapped to cores, IMC one range per socket and GPU one
// frequency per device.
type NodeFreqs struct {
	CPU []Freq     `json:"cpu"`
	IMC []IMCRange `json:"imc,omitempty"`
	GPU []Freq     `json:"gpu,omitempty"`
}

// NewNodeFreqs allocates a selection vector.
func NewNodeFreqs(cpus, sockets, gpus int) NodeFreqs {
	return NodeFreqs{
		CPU: make([]Freq, cpus),
		IMC: make([]IMCRange, sockets),
		GPU: make([]Freq, gpus),
	}
}

// Copy returns a deep copy of the vector.
func (n NodeFreqs) Copy() NodeFreqs {
	c := NodeFreqs{
		CPU: append([]Freq(nil), n.CPU...),
		IMC: append([]IMCRange(nil), n.IMC...),
		GPU: append([]Freq(nil), n.GPU...),
	}
	return c
}

// Equal compares two vectors.
func (n NodeFreqs) Equal(o NodeFreqs) bool {
	if len(n.CPU) != len(o.CPU) || len(n.IMC) != len(o.IMC) || len(n.GPU) != len(o.GPU) {
		return false
	}
	for i := range n.CPU {
		if n.CPU[i] != o.CPU[i] {
			return false
		}
	}
	for i := range n.IMC {
		if n.IMC[i] != o.IMC[i] {
			return false
		}
	}
	for i := range n.GPU {
		if n.GPU[i] != o.GPU[i] {
			return false
		}
	}
	return true
}

// SetAllCPU sets every CPU entry to f.
func (n NodeFreqs) SetAllCPU(f Freq) {
	for i := range n.CPU {
		n.CPU[i] = f
	}
}

// SetAllIMC sets every socket to the given range.
func (n NodeFreqs) SetAllIMC(r IMCRange) {
	for i := range n.IMC {
		n.IMC[i] = r
	}
}

// MaxCPU returns the highest selected CPU frequency.
func (n NodeFreqs) MaxCPU() Freq {
	return maxFreq(n.CPU)
}

// MinCPU returns the lowest selected CPU frequency.
func (n NodeFreqs) MinCPU() Freq {
	return minFreq(n.CPU)
}

// AvgCPU returns the average of the first count CPU entries, or all if count is <= 0.
func (n NodeFreqs) AvgCPU(count int) Freq {
	if count <= 0 || count > len(n.CPU) {
		count = len(n.CPU)
	}
	return avgFreq(n.CPU[:count])
}

// AvgGPU returns the average selected GPU frequency.
func (n NodeFreqs) AvgGPU() Freq {
	return avgFreq(n.GPU)
}

// String returns a compact dump of the vector.
func (n NodeFreqs) String() string {
	cpus := make([]string, 0, len(n.CPU))
	for _, f := range n.CPU {
		cpus = append(cpus, fmt.Sprintf("%.2f", f.GHz()))
	}
	imcs := make([]string, 0, len(n.IMC))
	for _, r := range n.IMC {
		imcs = append(imcs, fmt.Sprintf("%d-%d", r.Max, r.Min))
	}
	gpus := make([]string, 0, len(n.GPU))
	for _, f := range n.GPU {
		gpus = append(gpus, fmt.Sprintf("%.2f", f.GHz()))
	}
	return fmt.Sprintf("cpu[%s] imc[%s] gpu[%s]",
		strings.Join(cpus, " "), strings.Join(imcs, " "), strings.Join(gpus, " "))
}

func maxFreq(freqs []Freq) Freq {
	max := Freq(0)
	for _, f := range freqs {
		if f > max {
			max = f
		}
	}
	return max
}

func minFreq(freqs []Freq) Freq {
	if len(freqs) == 0 {
		return 0
	}
	min := freqs[0]
	for _, f := range freqs[1:] {
		if f < min {
			min = f
		}
	}
	return min
}

func avgFreq(freqs []Freq) Freq {
	if len(freqs) == 0 {
		return 0
	}
	total := uint64(0)
	for _, f := range freqs {
		total += uint64(f)
	}
	return Freq(total / uint64(len(freqs)))
}
