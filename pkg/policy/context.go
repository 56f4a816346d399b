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

package policy

import (
	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/freqsel"
	"github.com/intel/node-energy-policy/pkg/model"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

// PolicyContext is the state of the policy layer owned by the runtime and
// handed to the node policy and its plugin.
type PolicyContext struct {
	// CPU, IMC and GPU are the frequency capabilities of the node.
	CPU signature.CPUCaps
	IMC signature.IMCCaps
	GPU signature.GPUCaps
	// GPUDefaults are the default frequencies of the GPUs.
	GPUDefaults []signature.Freq
	// CPUs is the number of CPUs of the node.
	CPUs int
	// Sockets are the CPUs of every socket.
	Sockets []cpuset.CPUSet
	// SocketUniform is set if the hardware runs every core of a socket at
	// the same frequency.
	SocketUniform bool
	// Processes is the number of processes of the job on the node.
	Processes int
	// Jobs is the number of jobs sharing the node.
	Jobs int
	// Model is the energy model, nil for model-free selection.
	Model model.Model
	// MPI is set if MPI statistics are collected.
	MPI bool
	// Block is how the MPI runtime waits in blocking calls.
	Block mpistats.BlockType
	// Master gives access to the per-process state of the node, if any.
	Master *shared.Master
	// PowercapLimit is the node power limit in W, zero if unlimited.
	PowercapLimit float64
	// Freq is the CPU frequency currently in force.
	Freq signature.Freq
	// Options are the policy settings.
	Options Options
}

// NewPolicyContext creates a context for the given node capabilities with
// the active policy configuration.
func NewPolicyContext(cpu signature.CPUCaps, imc signature.IMCCaps, processes, cpus int) *PolicyContext {
	if processes < 1 {
		processes = 1
	}
	ctx := &PolicyContext{
		CPU:       cpu,
		IMC:       imc,
		CPUs:      cpus,
		Processes: processes,
		Jobs:      1,
		Options:   GetOptions(),
	}
	ctx.Freq = ctx.DefaultFreq()
	return ctx
}

// ModelBased returns true if frequencies are selected using an energy model.
func (c *PolicyContext) ModelBased() bool {
	return c.Model != nil
}

// DefaultPstate returns the default CPU pstate.
func (c *PolicyContext) DefaultPstate() int {
	if c.Options.DefaultFreq != 0 {
		return c.CPU.Pstates.Pstate(c.Options.DefaultFreq)
	}
	return c.CPU.Nominal()
}

// DefaultFreq returns the default CPU frequency.
func (c *PolicyContext) DefaultFreq() signature.Freq {
	return c.CPU.Pstates.Freq(c.DefaultPstate())
}

// MinPstate returns the highest performance pstate plugins may select.
func (c *PolicyContext) MinPstate() int {
	if c.Options.Turbo {
		return 0
	}
	return c.CPU.Nominal()
}

// LowestPstate returns the lowest performance pstate, honoring the floor.
func (c *PolicyContext) LowestPstate() int {
	lowest := c.CPU.Pstates.Lowest()
	if c.Options.MinFreq != 0 {
		if floor := c.CPU.Pstates.Pstate(c.Options.MinFreq); floor < lowest {
			lowest = floor
		}
	}
	return lowest
}

// CurrentPstate returns the pstate of the CPU frequency in force.
func (c *PolicyContext) CurrentPstate() int {
	return c.CPU.Pstates.Pstate(c.Freq)
}

// Powercap returns the node power limit to honor, zero if there is none
// or honoring it is disabled.
func (c *PolicyContext) Powercap() float64 {
	if !c.Options.Powercap || c.PowercapLimit < 0 {
		return 0
	}
	return c.PowercapLimit
}

// Thresholds returns the classifier thresholds.
func (c *PolicyContext) Thresholds() classify.Thresholds {
	return c.Options.Thresholds
}

// UncoreScaling returns true if the uncore frequency may be selected.
func (c *PolicyContext) UncoreScaling() bool {
	return c.Options.EUFS && c.IMC.Supported() && c.Jobs <= 1
}

// IMCSelector creates an uncore selector for the node.
func (c *PolicyContext) IMCSelector() *freqsel.IMCSelector {
	return freqsel.NewIMCSelector(c.IMC, freqsel.IMCConfig{
		ExtraTh: c.Options.IMCExtraTh,
		Dwell:   c.Options.IMCDwell,
		BusyGBS: c.Options.Thresholds.BusyGBS,
	})
}

// NewFreqs allocates a selection vector for the node.
func (c *PolicyContext) NewFreqs() signature.NodeFreqs {
	sockets := c.IMC.Sockets
	if !c.IMC.Supported() {
		sockets = 0
	}
	return signature.NewNodeFreqs(c.Processes, sockets, c.GPU.Devices())
}

// MPIInfos returns the MPI statistics of every process, if available.
func (c *PolicyContext) MPIInfos() ([]mpistats.Info, bool) {
	if !c.MPI || c.Master == nil || c.Processes < 2 {
		return nil, false
	}
	infos, err := c.Master.MPIInfos()
	if err != nil {
		log.Debug("MPI statistics not available: %v", err)
		return nil, false
	}
	return infos, true
}

// ProcessSignatures returns the signature of every process, if available.
func (c *PolicyContext) ProcessSignatures() ([]signature.Signature, bool) {
	if c.Master == nil || c.Processes < 2 {
		return nil, false
	}
	slots, err := c.Master.Snapshot()
	if err != nil {
		return nil, false
	}
	sigs := make([]signature.Signature, len(slots))
	for i := range slots {
		sigs[i] = slots[i].Signature
	}
	return sigs, true
}

// IMCLowest returns the uncore range of the lowest uncore frequency.
func (c *PolicyContext) IMCLowest() signature.IMCRange {
	lowest := c.IMC.Pstates.Lowest()
	if c.IMC.MaxPstate > 0 {
		lowest = c.IMC.Pstates.Clamp(c.IMC.MaxPstate)
	}
	return signature.IMCRange{Max: lowest, Min: lowest}
}
