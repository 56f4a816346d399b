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

package mintime

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
	PluginName = "min-time"
	// PluginDescription is a short description of this plugin.
	PluginDescription = "Minimize time to solution when the performance gain pays off."
)

type minTime struct {
	logger.Logger
	ctx     *policy.PolicyContext
	balance *policy.Balance
	last    signature.NodeFreqs
}

var _ policy.Plugin = &minTime{}

// CreateMinTimePlugin creates a new plugin instance.
func CreateMinTimePlugin(ctx *policy.PolicyContext) (policy.Plugin, error) {
	if ctx.CPU.Pstates.Len() == 0 {
		return nil, fmt.Errorf("%s: no CPU pstates", PluginName)
	}

	p := &minTime{
		Logger:  logger.NewLogger(PluginName),
		ctx:     ctx,
		balance: policy.NewBalance(ctx.Options.Balance, ctx.Options.ProximityFactor),
	}
	p.last = ctx.NewFreqs()
	p.Default(&p.last)

	p.Info("created, minimum gain %.2f, default %s", ctx.Options.MinTimeGain, ctx.DefaultFreq())
	if ctx.MPI {
		p.Info("MPI blocking calls are %s", ctx.Block)
	}

	return p, nil
}

// Name returns the name of this plugin.
func (p *minTime) Name() string {
	return PluginName
}

// Description returns the description of this plugin.
func (p *minTime) Description() string {
	return PluginDescription
}

// MaxTries returns the number of selections needed at most.
func (p *minTime) MaxTries() int {
	return 1
}

// Monitoring returns false, this plugin optimizes.
func (p *minTime) Monitoring() bool {
	return false
}

// LoopInit resets the load balance state.
func (p *minTime) LoopInit() {
	p.balance.Reset()
}

// NewIteration does nothing.
func (p *minTime) NewIteration(*signature.Signature) error {
	return nil
}

// Default sets the default frequencies, the uncore running at full speed.
func (p *minTime) Default(freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(p.ctx.DefaultFreq())
	if p.ctx.UncoreScaling() {
		freqs.SetAllIMC(p.ctx.IMCSelector().MaxPerformance())
	}
}

// IOSettings runs every process at the lowest frequency.
func (p *minTime) IOSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(p.ctx.CPU.Pstates.Freq(p.ctx.LowestPstate()))
}

// BusyWaitSettings runs every process at the lowest frequency.
func (p *minTime) BusyWaitSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(p.ctx.CPU.Pstates.Freq(p.ctx.LowestPstate()))
}

// RestoreSettings restores the last selection.
func (p *minTime) RestoreSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	copy(freqs.CPU, p.last.CPU)
	copy(freqs.IMC, p.last.IMC)
}

// OK checks if the selection taken for last still holds for cur.
func (p *minTime) OK(cur, last *signature.Signature) (bool, error) {
	return policy.DecisionOK(p.ctx, p.balance, cur, last), nil
}

// Apply selects the CPU frequency of every process.
func (p *minTime) Apply(sig *signature.Signature, freqs *signature.NodeFreqs) (policy.Status, error) {
	ctx := p.ctx
	pstates := ctx.CPU.Pstates
	def := ctx.DefaultPstate()
	minPstate := ctx.MinPstate()

	if !ctx.ModelBased() {
		pstate := def
		if classify.IsCPUBound(sig, ctx.Thresholds()) {
			pstate = minPstate
		}
		freqs.SetAllCPU(pstates.Freq(pstate))
		p.save(freqs)
		return policy.Ready, nil
	}

	// Projections are made from the default frequencies.
	if !p.atDefault() {
		p.Default(freqs)
		p.save(freqs)
		p.Debug("switching to default frequencies for reference")
		return policy.TryAgain, nil
	}

	perProcess := p.balance.Unbalanced()
	sigs, haveSigs := ctx.ProcessSignatures()

	for i := range freqs.CPU {
		procSig := sig
		if perProcess && haveSigs && i < len(sigs) {
			procSig = &sigs[i]
		}

		ref := freqsel.ComputeReference(ctx.Model, procSig, def, def)
		pstate, proj := freqsel.MinTime(ctx.Model, procSig, pstates, ref, def, def, minPstate,
			ctx.Options.MinTimeGain)
		if perProcess {
			pstate = freqsel.TryBoost(p.balance.Critical(i), pstate, minPstate)
		}
		p.Debug("process %d: pstate %d (%s), reference %s", i, pstate, proj, ref)
		freqs.CPU[i] = pstates.Freq(pstate)

		if !perProcess {
			freqs.SetAllCPU(freqs.CPU[i])
			break
		}
	}

	if ctx.UncoreScaling() {
		freqs.SetAllIMC(ctx.IMCSelector().MaxPerformance())
	}

	p.save(freqs)

	return policy.Ready, nil
}

func (p *minTime) atDefault() bool {
	def := p.ctx.NewFreqs()
	p.Default(&def)
	copy(def.GPU, p.last.GPU)
	return p.last.Equal(def)
}

func (p *minTime) save(freqs *signature.NodeFreqs) {
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
	policy.Register(Implementation(CreateMinTimePlugin))
}
