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

// Package gpu provides the GPU frequency capabilities and metrics of a node.
package gpu

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// mhz is one MHz in signature.Freq units.
const mhz = 1000

var log = logger.NewLogger("gpu")

// Provider gives access to the GPUs of a node.
type Provider interface {
	// Devices returns the number of GPUs.
	Devices() int
	// Caps returns the frequencies of every GPU and their defaults.
	Caps() (signature.GPUCaps, []signature.Freq, error)
	// Sample returns the current metrics of every GPU.
	Sample() ([]signature.GPUSignature, error)
	// SetFrequencies sets the graphics frequency of every GPU, skipping zeros.
	SetFrequencies(freqs []signature.Freq) error
	// Close releases the provider.
	Close() error
}

// NVML is a Provider for NVIDIA GPUs.
type NVML struct {
	sync.Mutex
	lib     nvmlLib
	devices []nvmlDevice
	memMHz  []uint32 // highest memory clock of every device
}

// NewNVML initializes NVML and discovers the GPUs.
func NewNVML() (*NVML, error) {
	return newNVML(&realNvmlLib{})
}

func newNVML(lib nvmlLib) (*NVML, error) {
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, gpuError("failed to initialize NVML: %s", lib.ErrorString(ret))
	}

	count, ret := lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		lib.Shutdown()
		return nil, gpuError("failed to get device count: %s", lib.ErrorString(ret))
	}

	n := &NVML{lib: lib}
	for i := 0; i < count; i++ {
		dev, ret := lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			lib.Shutdown()
			return nil, gpuError("failed to get device #%d: %s", i, lib.ErrorString(ret))
		}
		n.devices = append(n.devices, dev)
		n.memMHz = append(n.memMHz, 0)
	}

	log.Info("found %d NVIDIA GPU(s)", count)
	return n, nil
}

// Devices implements Provider.
func (n *NVML) Devices() int {
	return len(n.devices)
}

// Caps implements Provider.
func (n *NVML) Caps() (signature.GPUCaps, []signature.Freq, error) {
	n.Lock()
	defer n.Unlock()

	caps := signature.GPUCaps{Pstates: make([]signature.Pstates, len(n.devices))}
	defaults := make([]signature.Freq, len(n.devices))

	for i, dev := range n.devices {
		memClocks, ret := dev.GetSupportedMemoryClocks()
		if ret != nvml.SUCCESS || len(memClocks) == 0 {
			return caps, nil, gpuError("device #%d: failed to get memory clocks: %s", i, n.lib.ErrorString(ret))
		}
		for _, m := range memClocks {
			if m > n.memMHz[i] {
				n.memMHz[i] = m
			}
		}

		clocks, ret := dev.GetSupportedGraphicsClocks(int(n.memMHz[i]))
		if ret != nvml.SUCCESS {
			return caps, nil, gpuError("device #%d: failed to get graphics clocks: %s", i, n.lib.ErrorString(ret))
		}
		freqs := make([]signature.Freq, 0, len(clocks))
		for _, c := range clocks {
			freqs = append(freqs, signature.Freq(c)*mhz)
		}
		caps.Pstates[i] = signature.NewPstates(freqs...)

		def, ret := dev.GetDefaultApplicationsClock(nvml.CLOCK_GRAPHICS)
		if ret != nvml.SUCCESS {
			log.Warn("device #%d: no default clock (%s), using highest", i, n.lib.ErrorString(ret))
			defaults[i] = caps.Pstates[i].Freq(0)
		} else {
			defaults[i] = signature.Freq(def) * mhz
		}
	}

	return caps, defaults, nil
}

// Sample implements Provider.
func (n *NVML) Sample() ([]signature.GPUSignature, error) {
	n.Lock()
	defer n.Unlock()

	var errs *multierror.Error
	sigs := make([]signature.GPUSignature, len(n.devices))

	for i, dev := range n.devices {
		if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
			sigs[i].Util = float64(util.Gpu)
			sigs[i].MemUtil = float64(util.Memory)
		} else {
			errs = multierror.Append(errs, gpuError("device #%d: utilization: %s", i, n.lib.ErrorString(ret)))
		}
		if clock, ret := dev.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
			sigs[i].Freq = signature.Freq(clock) * mhz
		}
		if clock, ret := dev.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
			sigs[i].MemFreq = signature.Freq(clock) * mhz
		}
		if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
			sigs[i].Power = float64(mw) / 1000
		}
	}

	return sigs, errs.ErrorOrNil()
}

// SetFrequencies implements Provider.
func (n *NVML) SetFrequencies(freqs []signature.Freq) error {
	n.Lock()
	defer n.Unlock()

	var errs *multierror.Error
	for i, f := range freqs {
		if i >= len(n.devices) || f == 0 {
			continue
		}
		ret := n.devices[i].SetApplicationsClocks(n.memMHz[i], uint32(f/mhz))
		if ret != nvml.SUCCESS {
			errs = multierror.Append(errs, gpuError("device #%d: failed to set %s: %s", i, f, n.lib.ErrorString(ret)))
		}
	}
	return errs.ErrorOrNil()
}

// Close implements Provider.
func (n *NVML) Close() error {
	if ret := n.lib.Shutdown(); ret != nvml.SUCCESS {
		return gpuError("failed to shut down NVML: %s", n.lib.ErrorString(ret))
	}
	return nil
}

func gpuError(format string, args ...interface{}) error {
	return fmt.Errorf("gpu: "+format, args...)
}
