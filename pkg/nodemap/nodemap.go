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

// Package nodemap maps per-process frequency selections to per-core ones.
package nodemap

import (
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

// Result is a per-core frequency selection.
type Result struct {
	// Cores holds one frequency per core, zero for cores left untouched.
	Cores []signature.Freq
	Max   signature.Freq
	Min   signature.Freq
}

// Mapper maps process frequencies to cores.
type Mapper struct {
	// Cores is the number of cores of the node.
	Cores int
	// Sockets are the cores of each socket.
	Sockets []cpuset.CPUSet
	// SocketUniform raises every core of a socket to the socket maximum.
	SocketUniform bool
	// IgnoreAffinity broadcasts the frequency of process 0 to every core.
	IgnoreAffinity bool
	// Exclusive sets cores outside of every process mask to the lowest
	// selected frequency.
	Exclusive bool
}

// Map maps the process frequencies to cores using the process affinity masks.
func (m *Mapper) Map(procFreqs []signature.Freq, masks []cpuset.CPUSet) Result {
	var r Result

	if m.IgnoreAffinity {
		r.Cores = make([]signature.Freq, m.Cores)
		if len(procFreqs) > 0 {
			for i := range r.Cores {
				r.Cores[i] = procFreqs[0]
			}
			r.Max, r.Min = procFreqs[0], procFreqs[0]
		}
		return r
	}

	r.Cores, r.Max, r.Min = MapProcessToCore(procFreqs, masks, m.Cores)

	if m.Exclusive && r.Min != 0 {
		for i, f := range r.Cores {
			if f == 0 {
				r.Cores[i] = r.Min
			}
		}
	}

	if m.SocketUniform {
		SocketUniform(r.Cores, m.Sockets)
	}

	return r
}

// MapProcessToCore broadcasts the frequency of each process to every core in
// its affinity mask. Cores shared by several processes get the highest of
// their frequencies. The highest and lowest frequency of all touched cores
// are returned along with the per-core frequencies.
func MapProcessToCore(procFreqs []signature.Freq, masks []cpuset.CPUSet, coreCount int) ([]signature.Freq, signature.Freq, signature.Freq) {
	cores := make([]signature.Freq, coreCount)
	var max, min signature.Freq

	for p, f := range procFreqs {
		if p >= len(masks) || f == 0 {
			continue
		}
		for _, id := range masks[p].List() {
			if id < 0 || id >= coreCount {
				log.Warn("process %d affinity includes CPU #%d beyond %d cores", p, id, coreCount)
				continue
			}
			if f > cores[id] {
				cores[id] = f
			}
		}
	}

	for _, f := range cores {
		if f == 0 {
			continue
		}
		if f > max {
			max = f
		}
		if min == 0 || f < min {
			min = f
		}
	}

	return cores, max, min
}

// SocketUniform raises the frequency of every core of a socket to the
// highest frequency selected for any core of that socket.
func SocketUniform(cores []signature.Freq, sockets []cpuset.CPUSet) {
	for _, socket := range sockets {
		var max signature.Freq
		ids := socket.List()
		for _, id := range ids {
			if id < len(cores) && cores[id] > max {
				max = cores[id]
			}
		}
		if max == 0 {
			continue
		}
		for _, id := range ids {
			if id < len(cores) {
				cores[id] = max
			}
		}
	}
}

// ProcessAvgFreq returns the average frequency of the cores in mask.
func ProcessAvgFreq(mask cpuset.CPUSet, cores []signature.Freq) signature.Freq {
	var sum uint64
	n := 0
	for _, id := range mask.List() {
		if id < len(cores) && cores[id] != 0 {
			sum += uint64(cores[id])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return signature.Freq(sum / uint64(n))
}

// NodeAvgFreq returns the average frequency of the cores used by any of
// the processes.
func NodeAvgFreq(masks []cpuset.CPUSet, cores []signature.Freq) signature.Freq {
	used := cpuset.New()
	for _, mask := range masks {
		used = used.Union(mask)
	}
	return ProcessAvgFreq(used, cores)
}
