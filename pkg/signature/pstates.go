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
	"sort"
	"strings"
)

// Pstates is the list of frequencies of a domain, sorted by decreasing
// frequency. Index 0 is the highest performance pstate.
type Pstates []Freq

// NewPstates creates a pstate list from the given frequencies, in any order.
func NewPstates(freqs ...Freq) Pstates {
	p := make(Pstates, 0, len(freqs))
	seen := map[Freq]bool{}
	for _, f := range freqs {
		if f == 0 || seen[f] {
			continue
		}
		seen[f] = true
		p = append(p, f)
	}
	sort.Slice(p, func(i, j int) bool { return p[i] > p[j] })
	return p
}

// Len returns the number of pstates.
func (p Pstates) Len() int {
	return len(p)
}

// Freq returns the frequency of the given pstate, clamped to the list.
func (p Pstates) Freq(pstate int) Freq {
	if len(p) == 0 {
		return 0
	}
	return p[p.Clamp(pstate)]
}

// Clamp clamps a pstate index to the list.
func (p Pstates) Clamp(pstate int) int {
	switch {
	case pstate < 0:
		return 0
	case pstate >= len(p):
		return len(p) - 1
	}
	return pstate
}

// Lowest returns the index of the lowest frequency (minimum performance) pstate.
func (p Pstates) Lowest() int {
	return len(p) - 1
}

// Pstate returns the pstate of the given frequency. Frequencies in between
// two pstates map to the higher frequency one, frequencies out of range to the
// closest end of the list.
func (p Pstates) Pstate(f Freq) int {
	if len(p) == 0 {
		return 0
	}
	if f >= p[0] {
		return 0
	}
	for i := 1; i < len(p); i++ {
		if p[i] == f {
			return i
		}
		if p[i] < f {
			return i - 1
		}
	}
	return len(p) - 1
}

// String returns the list formatted in GHz.
func (p Pstates) String() string {
	s := make([]string, 0, len(p))
	for i, f := range p {
		s = append(s, fmt.Sprintf("%d:%s", i, f))
	}
	return "[" + strings.Join(s, " ") + "]"
}

// CPUCaps describes the CPU frequency capabilities of the node.
type CPUCaps struct {
	Pstates Pstates
	// Turbo is set when pstate 0 is the turbo pseudo-frequency.
	Turbo bool
}

// Nominal returns the nominal (highest non-turbo) pstate.
func (c CPUCaps) Nominal() int {
	if c.Turbo && len(c.Pstates) > 1 {
		return 1
	}
	return 0
}

// NominalFreq returns the nominal frequency.
func (c CPUCaps) NominalFreq() Freq {
	return c.Pstates.Freq(c.Nominal())
}

// IMCCaps describes the uncore (memory controller) frequency capabilities.
type IMCCaps struct {
	Pstates Pstates
	// Sockets is the number of independently controlled uncore domains.
	Sockets int
	// MinPstate and MaxPstate bound the pstates the hardware accepts,
	// MinPstate being the highest frequency one.
	MinPstate int
	MaxPstate int
}

// Supported returns true if the uncore frequency can be controlled.
func (c IMCCaps) Supported() bool {
	return c.Pstates.Len() > 0 && c.Sockets > 0
}

// GPUCaps describes the frequencies available per GPU device.
type GPUCaps struct {
	Pstates []Pstates
}

// Devices returns the number of GPUs.
func (c GPUCaps) Devices() int {
	return len(c.Pstates)
}
