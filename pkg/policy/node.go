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
	"errors"
	"fmt"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/freqsel"
	"github.com/intel/node-energy-policy/pkg/nodemap"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/states"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

var (
	// ErrPhaseChanged is returned by NewIteration when the application left
	// an I/O or busy-waiting phase.
	ErrPhaseChanged = errors.New("policy: application phase changed")
	// ErrGPUActive is returned by NewIteration when idle GPUs became active.
	ErrGPUActive = errors.New("policy: idle GPUs became active")
)

// Decision is the outcome of applying the node policy to a signature.
type Decision struct {
	// Status is the readiness of the selection.
	Status Status
	// Phase is the phase the signature was classified to.
	Phase classify.Phase
	// Applied is set if the selection has to be actuated.
	Applied bool
	// Freqs is the per-process selection.
	Freqs signature.NodeFreqs
	// Cores is the selection mapped to cores.
	Cores []signature.Freq
	// Max and Min are the extremes of the mapped selection.
	Max signature.Freq
	Min signature.Freq
	// AvgCPU and AvgGPU are the average selected CPU and GPU frequencies.
	AvgCPU signature.Freq
	AvgGPU signature.Freq
}

// String returns the decision as a string.
func (d Decision) String() string {
	return fmt.Sprintf("%s/%s cpu %s (%s-%s) gpu %s", d.Status, d.Phase,
		d.AvgCPU, d.Min, d.Max, d.AvgGPU)
}

// OKResult is the outcome of a policy check.
type OKResult struct {
	// OK is set if the last decision is still valid.
	OK bool
	// Savings are the estimated savings of the last decision.
	Savings Savings
}

// Node applies a plugin to the signatures of a node and turns its
// selections into per-core frequencies.
type Node struct {
	ctx         *PolicyContext
	plugin      Plugin
	gpu         freqsel.GPUPolicy
	mapper      *nodemap.Mapper
	freqs       signature.NodeFreqs
	lastPhase   classify.Phase
	lastGPUIdle bool
}

// NewNode creates the node policy for a plugin.
func NewNode(ctx *PolicyContext, plugin Plugin) (*Node, error) {
	if plugin == nil {
		return nil, policyError("nil plugin")
	}

	gpu, err := freqsel.NewGPUPolicy(ctx.Options.GPUPolicy)
	if err != nil {
		return nil, policyError("failed to create GPU policy: %v", err)
	}

	n := &Node{
		ctx:    ctx,
		plugin: plugin,
		gpu:    gpu,
		mapper: &nodemap.Mapper{
			Cores:          ctx.CPUs,
			Sockets:        ctx.Sockets,
			SocketUniform:  ctx.SocketUniform,
			IgnoreAffinity: ctx.Options.IgnoreAffinity,
			Exclusive:      ctx.Options.Exclusive,
		},
		freqs:     ctx.NewFreqs(),
		lastPhase: classify.CompBound,
	}
	plugin.Default(&n.freqs)

	log.Info("node policy using plugin '%s' (%s), GPU policy '%s'",
		plugin.Name(), map[bool]string{true: "model", false: "model-free"}[ctx.ModelBased()], gpu.Name())

	return n, nil
}

// Plugin returns the plugin of the node.
func (n *Node) Plugin() Plugin {
	return n.plugin
}

// Current returns the frequencies currently selected.
func (n *Node) Current() signature.NodeFreqs {
	return n.freqs.Copy()
}

// MaxTries returns the number of selections the plugin needs at most.
func (n *Node) MaxTries() int {
	if n.ctx.Options.MaxTries > 0 {
		return n.ctx.Options.MaxTries
	}
	if tries := n.plugin.MaxTries(); tries > 0 {
		return tries
	}
	return 1
}

// AtDefault returns true if the selection in force is the default one.
func (n *Node) AtDefault() bool {
	def := n.ctx.NewFreqs()
	n.plugin.Default(&def)
	n.clamp(&def)
	return def.Equal(n.freqs)
}

// LoopInit resets the node for a new loop.
func (n *Node) LoopInit() {
	n.lastPhase = classify.CompBound
	n.plugin.LoopInit()
}

// Apply classifies the signature and runs the plugin, or the phase settings
// of the plugin for I/O and busy-waiting phases.
func (n *Node) Apply(sig *signature.Signature) (Decision, error) {
	t := n.ctx.Thresholds()
	phase := classify.Classify(sig, n.ctx.CPUs, t)
	busy := classify.IsBusyWaiting(sig, t)
	gpuIdle := classify.IsGPUIdle(sig)
	freqs := n.freqs.Copy()

	var (
		status   Status
		restored bool
		err      error
	)

	phases := n.ctx.Options.UsePhases

	switch {
	case phases && phase == classify.IOBound && busy:
		log.Debug("I/O bound and busy waiting")
		n.plugin.IOSettings(sig, &freqs)
		n.lastPhase = classify.IOBound
		status = Ready
	case phases && phase == classify.IOBound && n.lastPhase == classify.IOBound:
		log.Debug("I/O bound but no longer waiting")
		n.plugin.RestoreSettings(sig, &freqs)
		n.lastPhase = classify.CompBound
		restored = true
	case phases && phase == classify.BusyWaiting:
		log.Debug("busy waiting")
		n.plugin.BusyWaitSettings(sig, &freqs)
		n.lastPhase = classify.BusyWaiting
		status = Ready
	case phases && (n.lastPhase == classify.BusyWaiting || n.lastPhase == classify.IOBound ||
		gpuIdle != n.lastGPUIdle):
		log.Debug("leaving %s phase", n.lastPhase)
		n.plugin.RestoreSettings(sig, &freqs)
		n.lastPhase = classify.CompBound
		restored = true
	default:
		if phase == classify.IOBound {
			phase = classify.CompBound
		}
		n.lastPhase = phase
		status, err = n.plugin.Apply(sig, &freqs)
		if err != nil {
			return Decision{Phase: phase}, policyError("plugin '%s' failed: %v", n.plugin.Name(), err)
		}
	}
	n.lastGPUIdle = gpuIdle

	d := Decision{Status: status, Phase: phase}
	if status == Ready || status == TryAgain || (restored && !freqs.Equal(n.freqs)) {
		n.selectFreqs(sig, &freqs, &d)
	}

	return d, nil
}

// ApplyApp runs the application level selection of the plugin.
func (n *Node) ApplyApp(sig *signature.Signature) (Decision, error) {
	app, ok := n.plugin.(AppPlugin)
	if !ok {
		return Decision{Status: Ready}, nil
	}

	freqs := n.freqs.Copy()
	status, err := app.ApplyApp(sig, &freqs)
	if err != nil {
		return Decision{}, policyError("plugin '%s' failed: %v", n.plugin.Name(), err)
	}

	d := Decision{Status: status, Phase: n.lastPhase}
	if status == Ready || status == TryAgain {
		n.selectFreqs(sig, &freqs, &d)
	}

	return d, nil
}

// Default restores the default frequencies.
func (n *Node) Default() Decision {
	freqs := n.ctx.NewFreqs()
	n.plugin.Default(&freqs)

	d := Decision{Status: Ready, Phase: n.lastPhase}
	n.selectFreqs(nil, &freqs, &d)

	return d
}

// OK checks if the decision taken for last is still valid for cur.
func (n *Node) OK(cur, last *signature.Signature) (OKResult, error) {
	if last == nil {
		return OKResult{OK: true}, nil
	}

	if m := n.ctx.Master; m != nil {
		if !m.AllReady() {
			return OKResult{OK: true}, nil
		}
		defer m.Clean()
	}

	ok, err := n.plugin.OK(cur, last)
	if err != nil {
		return OKResult{}, policyError("plugin '%s' failed to check decision: %v", n.plugin.Name(), err)
	}

	if !ok {
		n.lastPhase = classify.CompBound
		return OKResult{}, nil
	}

	if n.plugin.Monitoring() {
		return OKResult{OK: true}, nil
	}

	savings := ComputeEnergySavings(cur, last)
	if savings.Energy < 0 {
		log.Debug("negative energy savings: %s", savings)
		return OKResult{Savings: savings}, nil
	}

	return OKResult{OK: true, Savings: savings}, nil
}

// NewIteration checks at every iteration if the application left an I/O
// or busy-waiting phase or started using idle GPUs.
func (n *Node) NewIteration(sig *signature.Signature) error {
	if sig != nil {
		if (n.lastPhase == classify.IOBound || n.lastPhase == classify.BusyWaiting) &&
			sig.Gflops > n.ctx.Thresholds().BusyGflops {
			log.Debug("%s phase ended (%.2f Gflops)", n.lastPhase, sig.Gflops)
			n.lastPhase = classify.CompBound
			return ErrPhaseChanged
		}
		if n.lastGPUIdle && sig.GPUUtil() > 0 {
			n.lastGPUIdle = false
			return ErrGPUActive
		}
	}

	return n.plugin.NewIteration(sig)
}

// PolicyStatus converts the status of a selection for the state machine.
func PolicyStatus(s Status) states.PolicyStatus {
	switch s {
	case Ready:
		return states.PolicyReady
	case GlobalEval:
		return states.PolicyGlobalEval
	default:
		return states.PolicyTryAgain
	}
}

// selectFreqs turns the plugin selection into the decision to actuate.
func (n *Node) selectFreqs(sig *signature.Signature, freqs *signature.NodeFreqs, d *Decision) {
	pstates := n.ctx.CPU.Pstates

	if sig != nil {
		d.AvgGPU = freqsel.SelectGPU(n.gpu, sig, n.ctx.GPU, n.ctx.GPUDefaults, freqs)

		if limit := n.ctx.Powercap(); limit > 0 {
			floor := n.ctx.LowestPstate()
			for i, f := range freqs.CPU {
				p := freqsel.PowercapPstate(pstates, pstates.Pstate(f), sig.DCPower, sig.AvgCPUFreq, limit, floor)
				freqs.CPU[i] = pstates.Freq(p)
			}
		}
	} else {
		d.AvgGPU = freqs.AvgGPU()
	}

	n.clamp(freqs)

	res := n.mapper.Map(freqs.CPU, n.masks())

	d.Applied = true
	d.Freqs = freqs.Copy()
	d.Cores = res.Cores
	d.Max = res.Max
	d.Min = res.Min
	d.AvgCPU = freqs.AvgCPU(len(freqs.CPU))

	n.freqs = freqs.Copy()
	n.ctx.Freq = d.AvgCPU
	if n.ctx.Master != nil && sig != nil {
		n.ctx.Master.Publish(sig, n.freqs)
	}

	log.Debug("selected %s", d)
}

// clamp bounds the selection by the administrator floor and the hardware
// limits of every domain. Turbo selections pass: plugins only pick turbo
// when the hardware has it.
func (n *Node) clamp(freqs *signature.NodeFreqs) {
	freqsel.ApplyFloor(freqs, n.ctx.Options.MinFreq, n.ctx.CPU.Pstates.Freq(0))
	freqsel.ClampGPU(freqs, n.ctx.GPU)
}

// masks returns the affinity masks of the processes. A process with no
// known affinity may run on any CPU.
func (n *Node) masks() []cpuset.CPUSet {
	masks := make([]cpuset.CPUSet, n.ctx.Processes)
	all := cpuset.Range(n.ctx.CPUs)
	for i := range masks {
		masks[i] = all
		if n.ctx.Master == nil {
			continue
		}
		n.ctx.Master.WithAffinity(i, func(mask cpuset.CPUSet) {
			if mask.Size() > 0 {
				masks[i] = mask
			}
		})
	}
	return masks
}
