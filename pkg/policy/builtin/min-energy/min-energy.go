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

package minenergy

import (
	"fmt"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/freqsel"
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// PluginName is the name this plugin registers with.
	PluginName = "min-energy"
	// PluginDescription is a short description of this plugin.
	PluginDescription = "Minimize energy to solution within a time penalty."
)

// step is the progress of a selection.
type step int

const (
	selectCPU step = iota
	compIMCRef
	tryTurbo
	selectIMC
)

func (s step) String() string {
	switch s {
	case selectCPU:
		return "select-cpufreq"
	case compIMCRef:
		return "comp-imcref"
	case tryTurbo:
		return "try-turbo"
	case selectIMC:
		return "select-imcfreq"
	}
	return fmt.Sprintf("step-%d", int(s))
}

type minEnergy struct {
	logger.Logger
	ctx     *policy.PolicyContext
	balance *policy.Balance
	search  *freqsel.LinearSearch
	imc     *freqsel.IMCSelector
	step    step
	last    signature.NodeFreqs
	cpuSig  *signature.Signature
}

var _ policy.Plugin = &minEnergy{}

// CreateMinEnergyPlugin creates a new plugin instance.
func CreateMinEnergyPlugin(ctx *policy.PolicyContext) (policy.Plugin, error) {
	if ctx.CPU.Pstates.Len() == 0 {
		return nil, fmt.Errorf("%s: no CPU pstates", PluginName)
	}

	p := &minEnergy{
		Logger:  logger.NewLogger(PluginName),
		ctx:     ctx,
		balance: policy.NewBalance(ctx.Options.Balance, ctx.Options.ProximityFactor),
		search:  freqsel.NewLinearSearch(ctx.DefaultPstate(), ctx.LowestPstate(), ctx.Options.Penalty),
		imc:     ctx.IMCSelector(),
	}
	p.last = ctx.NewFreqs()
	p.Default(&p.last)

	p.Info("created, penalty %.2f, default %s", ctx.Options.Penalty, ctx.DefaultFreq())
	if ctx.MPI {
		p.Info("MPI blocking calls are %s", ctx.Block)
	}

	return p, nil
}

// Name returns the name of this plugin.
func (p *minEnergy) Name() string {
	return PluginName
}

// Description returns the description of this plugin.
func (p *minEnergy) Description() string {
	return PluginDescription
}

// MaxTries returns the number of selections needed at most.
func (p *minEnergy) MaxTries() int {
	return 1
}

// Monitoring returns false, this plugin optimizes.
func (p *minEnergy) Monitoring() bool {
	return false
}

// LoopInit restarts the selection.
func (p *minEnergy) LoopInit() {
	p.step = selectCPU
	p.cpuSig = nil
	p.search.Reset()
	p.imc.Reset()
	p.balance.Reset()
}

// NewIteration does nothing.
func (p *minEnergy) NewIteration(*signature.Signature) error {
	return nil
}

// Default sets the default frequencies.
func (p *minEnergy) Default(freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(p.ctx.DefaultFreq())
	if p.ctx.UncoreScaling() {
		freqs.SetAllIMC(p.imc.Default())
	}
}

// IOSettings runs every process at the lowest frequencies.
func (p *minEnergy) IOSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	p.lowest(freqs)
}

// BusyWaitSettings runs every process at the lowest frequencies.
func (p *minEnergy) BusyWaitSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	p.lowest(freqs)
}

// RestoreSettings restores the last selection.
func (p *minEnergy) RestoreSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	copy(freqs.CPU, p.last.CPU)
	copy(freqs.IMC, p.last.IMC)
}

func (p *minEnergy) lowest(freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(p.ctx.CPU.Pstates.Freq(p.ctx.LowestPstate()))
	if p.ctx.UncoreScaling() {
		freqs.SetAllIMC(p.ctx.IMCLowest())
	}
}

// OK checks if the selection taken for last still holds for cur.
func (p *minEnergy) OK(cur, last *signature.Signature) (bool, error) {
	ok := policy.DecisionOK(p.ctx, p.balance, cur, last)
	if !ok {
		p.Debug("selection no longer valid")
	}
	return ok, nil
}

// Apply runs one selection step.
func (p *minEnergy) Apply(sig *signature.Signature, freqs *signature.NodeFreqs) (policy.Status, error) {
	if p.step != selectCPU && p.cpuSig != nil && !policy.DecisionOK(p.ctx, p.balance, sig, p.cpuSig) {
		p.Debug("signature changed during %s, restarting", p.step)
		p.step = selectCPU
	}

	if p.step == selectCPU || !p.ctx.UncoreScaling() {
		return p.selectCPU(sig, freqs)
	}

	switch p.step {
	case compIMCRef, tryTurbo:
		cur := p.currentIMC(freqs)
		freqs.SetAllIMC(p.imc.SetReference(sig, cur))
		copy(freqs.CPU, p.last.CPU)
		p.step = selectIMC
		p.save(freqs)
		return policy.TryAgain, nil

	case selectIMC:
		d := p.imc.Next(sig, p.currentIMC(freqs))
		freqs.SetAllIMC(d.Range)
		copy(freqs.CPU, p.last.CPU)
		p.save(freqs)
		switch {
		case d.Restart:
			p.step = selectCPU
			return policy.TryAgain, nil
		case d.Ready:
			p.step = selectCPU
			return policy.Ready, nil
		}
		return policy.TryAgain, nil
	}

	return policy.Continue, nil
}

func (p *minEnergy) selectCPU(sig *signature.Signature, freqs *signature.NodeFreqs) (policy.Status, error) {
	ctx := p.ctx
	pstates := ctx.CPU.Pstates
	def := ctx.DefaultPstate()
	defFreq := ctx.DefaultFreq()

	// Projections are made from the default frequencies.
	if ctx.ModelBased() && !p.atDefault() {
		p.Default(freqs)
		p.save(freqs)
		p.Debug("switching to default frequencies for reference")
		return policy.TryAgain, nil
	}

	t := ctx.Thresholds()
	cbound := classify.IsCPUBound(sig, t)
	mbound := classify.IsMemBound(sig, t)
	status := policy.Ready
	perProcess := p.balance.Unbalanced()
	cp := p.balance.CriticalPath()
	lb := p.balance.LoadBalance()
	sigs, haveSigs := ctx.ProcessSignatures()

	cur := ctx.CurrentPstate()
	if ctx.Powercap() > 0 && sig.AvgCPUFreq != 0 {
		cur = pstates.Pstate(sig.AvgCPUFreq)
	}

	if !ctx.ModelBased() {
		pstate := def
		if !cbound {
			s := p.search.Next(cur, sig)
			pstate = s.Pstate
			if !s.Ready {
				status = policy.TryAgain
			}
		}
		freqs.SetAllCPU(pstates.Freq(pstate))
	} else {
		for i := range freqs.CPU {
			procSig := sig
			if perProcess && haveSigs && i < len(sigs) {
				procSig = &sigs[i]
			}

			penalty := ctx.Options.Penalty
			if perProcess {
				critical := p.balance.Critical(i)
				if critical && !mbound {
					freqs.CPU[i] = pstates.Freq(freqsel.CriticalPathPstate(ctx.CPU,
						procSig.AvgCPUFreq, ctx.Options.TurboForCriticalPath && ctx.CPU.Turbo))
					continue
				}
				penalty = freqsel.ProcessPenalty(penalty, lb.Percentages, i, cp.MinIdx, critical, mbound)
			}

			ref := freqsel.ComputeReference(ctx.Model, procSig, def, def)
			pstate, proj := freqsel.MinEnergy(ctx.Model, procSig, ref, def, def,
				ctx.MinPstate(), pstates.Len(), penalty)
			p.Debug("process %d: pstate %d (%s), reference %s", i, pstate, proj, ref)
			freqs.CPU[i] = pstates.Freq(pstate)

			if !perProcess {
				freqs.SetAllCPU(freqs.CPU[i])
				break
			}
		}
	}

	turbo := false
	if freqs.MinCPU() == ctx.CPU.NominalFreq() && cbound && ctx.Options.TryTurbo && ctx.CPU.Turbo {
		freqs.SetAllCPU(pstates.Freq(0))
		turbo = true
	}

	cpuSig := sig.Copy()
	p.cpuSig = &cpuSig

	uncore := ctx.UncoreScaling()
	decided := ctx.ModelBased() || status == policy.Ready
	mpiBound := classify.Classify(sig, ctx.CPUs, t) == classify.MPIBound
	holding := false

	if decided && uncore {
		switch {
		case mpiBound && ctx.Options.NetworkUsesIMC:
			freqs.SetAllIMC(p.imc.MaxPerformance())
			uncore = false
		case p.imc.Holding():
			d := p.imc.Next(sig, p.currentIMC(freqs))
			freqs.SetAllIMC(d.Range)
			holding = true
		default:
			r := p.imc.Initial(sig, freqs.MinCPU() == ctx.CPU.NominalFreq(), cbound)
			if ctx.Options.IMCSetByHW {
				r.Min = p.imc.Default().Min
			}
			freqs.SetAllIMC(r)
		}
	}

	switch {
	case turbo:
		p.step = tryTurbo
		status = policy.TryAgain
	case !uncore || holding:
		p.step = selectCPU
	case decided:
		if !p.allAt(freqs, defFreq) || cbound {
			p.step = compIMCRef
		} else {
			p.imc.SetReference(sig, p.currentIMC(freqs))
			p.step = selectIMC
		}
		status = policy.TryAgain
	default:
		p.step = selectCPU
	}

	p.save(freqs)
	p.Debug("selected %s, next %s", freqs, p.step)

	return status, nil
}

// atDefault checks if the last selection was the default one.
func (p *minEnergy) atDefault() bool {
	def := p.ctx.NewFreqs()
	p.Default(&def)
	copy(def.GPU, p.last.GPU)
	return p.last.Equal(def)
}

func (p *minEnergy) allAt(freqs *signature.NodeFreqs, f signature.Freq) bool {
	for _, cpu := range freqs.CPU {
		if cpu != f {
			return false
		}
	}
	return true
}

func (p *minEnergy) currentIMC(freqs *signature.NodeFreqs) freqsel.IMCRange {
	if len(freqs.IMC) == 0 {
		return p.imc.Default()
	}
	return freqs.IMC[0]
}

func (p *minEnergy) save(freqs *signature.NodeFreqs) {
	copy(p.last.CPU, freqs.CPU)
	copy(p.last.IMC, freqs.IMC)
}

// Implementation is the implementation we register with the policy module.
type Implementation func(*policy.PolicyContext) (policy.Plugin, error)

// Name returns the name of this plugin implementation.
func (i Implementation) Name() string {
	return PluginName
}

// Description returns the description of this plugin implementation.
func (i Implementation) Description() string {
	return PluginDescription
}

// CreateFn returns the function used to instantiate this plugin.
func (i Implementation) CreateFn() policy.CreateFn {
	return policy.CreateFn(i)
}

var _ policy.Implementation = Implementation(nil)

func init() {
	policy.Register(Implementation(CreateMinEnergyPlugin))
}
