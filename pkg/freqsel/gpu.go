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

package freqsel

import (
	"sort"

	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// GPUMinEnergy is the name of the minimum energy GPU policy.
	GPUMinEnergy = "gpu-min-energy"
	// GPUMonitoring is the name of the monitoring only GPU policy.
	GPUMonitoring = "gpu-monitoring"
)

// GPUPolicy selects the frequency of every GPU of the node.
type GPUPolicy interface {
	// Name returns the name of the policy.
	Name() string
	// Select fills freqs with a frequency per device, given the signature,
	// the device capabilities and the default frequencies.
	Select(sig *signature.Signature, caps signature.GPUCaps, defaults []signature.Freq, freqs []signature.Freq)
}

// gpuPolicies are the known GPU policies.
var gpuPolicies = map[string]func() GPUPolicy{
	GPUMinEnergy:  func() GPUPolicy { return &gpuMinEnergy{} },
	GPUMonitoring: func() GPUPolicy { return &gpuMonitoring{} },
}

// NewGPUPolicy creates the GPU policy of the given name.
func NewGPUPolicy(name string) (GPUPolicy, error) {
	create, ok := gpuPolicies[name]
	if !ok {
		return nil, freqselError("unknown GPU policy %q (known: %v)", name, GPUPolicies())
	}
	return create(), nil
}

// GPUPolicies returns the names of the known GPU policies.
func GPUPolicies() []string {
	names := make([]string, 0, len(gpuPolicies))
	for name := range gpuPolicies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectGPU runs the GPU policy and returns the average selected frequency.
func SelectGPU(p GPUPolicy, sig *signature.Signature, caps signature.GPUCaps, defaults []signature.Freq, freqs *signature.NodeFreqs) signature.Freq {
	if p == nil || len(freqs.GPU) == 0 {
		return 0
	}
	p.Select(sig, caps, defaults, freqs.GPU)
	return freqs.AvgGPU()
}

// gpuMinEnergy drops idle devices to their lowest frequency and keeps busy
// ones at their default.
type gpuMinEnergy struct{}

func (*gpuMinEnergy) Name() string {
	return GPUMinEnergy
}

func (*gpuMinEnergy) Select(sig *signature.Signature, caps signature.GPUCaps, defaults, freqs []signature.Freq) {
	for i := range freqs {
		def := defaultGPUFreq(caps, defaults, i)
		if i < len(sig.GPUs) && sig.GPUs[i].Util == 0 && i < caps.Devices() && caps.Pstates[i].Len() > 0 {
			pstates := caps.Pstates[i]
			freqs[i] = pstates.Freq(pstates.Lowest())
			continue
		}
		freqs[i] = def
	}
}

// gpuMonitoring keeps every device at its default frequency.
type gpuMonitoring struct{}

func (*gpuMonitoring) Name() string {
	return GPUMonitoring
}

func (*gpuMonitoring) Select(_ *signature.Signature, caps signature.GPUCaps, defaults, freqs []signature.Freq) {
	for i := range freqs {
		freqs[i] = defaultGPUFreq(caps, defaults, i)
	}
}

func defaultGPUFreq(caps signature.GPUCaps, defaults []signature.Freq, i int) signature.Freq {
	if i < len(defaults) && defaults[i] != 0 {
		return defaults[i]
	}
	if i < caps.Devices() {
		return caps.Pstates[i].Freq(0)
	}
	return 0
}

// ClampGPU bounds every GPU frequency of the vector by the frequencies the
// device supports. Devices without known capabilities and unset entries
// are left alone.
func ClampGPU(freqs *signature.NodeFreqs, caps signature.GPUCaps) {
	for i, f := range freqs.GPU {
		if f == 0 || i >= caps.Devices() || caps.Pstates[i].Len() == 0 {
			continue
		}
		pstates := caps.Pstates[i]
		if max := pstates.Freq(0); f > max {
			freqs.GPU[i] = max
		}
		if min := pstates.Freq(pstates.Lowest()); f < min {
			freqs.GPU[i] = min
		}
	}
}
