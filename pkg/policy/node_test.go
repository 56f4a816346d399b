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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

const GHz = signature.Freq(1000000)

type fakePlugin struct {
	status     Status
	freqs      []signature.Freq
	ok         bool
	monitoring bool
	calls      []string
}

func (p *fakePlugin) Name() string        { return "fake" }
func (p *fakePlugin) Description() string { return "test plugin" }
func (p *fakePlugin) MaxTries() int       { return 2 }
func (p *fakePlugin) LoopInit()           { p.calls = append(p.calls, "loop-init") }
func (p *fakePlugin) Monitoring() bool    { return p.monitoring }

func (p *fakePlugin) Apply(sig *signature.Signature, freqs *signature.NodeFreqs) (Status, error) {
	p.calls = append(p.calls, "apply")
	p.set(freqs)
	return p.status, nil
}

func (p *fakePlugin) Default(freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(2400000)
}

func (p *fakePlugin) OK(cur, last *signature.Signature) (bool, error) {
	p.calls = append(p.calls, "ok")
	return p.ok, nil
}

func (p *fakePlugin) NewIteration(*signature.Signature) error {
	return nil
}

func (p *fakePlugin) IOSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	p.calls = append(p.calls, "io")
	freqs.SetAllCPU(1 * GHz)
}

func (p *fakePlugin) BusyWaitSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	p.calls = append(p.calls, "busy")
	freqs.SetAllCPU(1 * GHz)
}

func (p *fakePlugin) RestoreSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	p.calls = append(p.calls, "restore")
	p.set(freqs)
}

func (p *fakePlugin) set(freqs *signature.NodeFreqs) {
	for i := range freqs.CPU {
		if i < len(p.freqs) {
			freqs.CPU[i] = p.freqs[i]
		} else if len(p.freqs) > 0 {
			freqs.CPU[i] = p.freqs[0]
		}
	}
}

func (p *fakePlugin) takeCalls() []string {
	calls := p.calls
	p.calls = nil
	return calls
}

func init() {
	Register(fakeImplementation(func(*PolicyContext) (Plugin, error) {
		return &fakePlugin{}, nil
	}))
}

type fakeImplementation func(*PolicyContext) (Plugin, error)

func (i fakeImplementation) Name() string        { return "fake" }
func (i fakeImplementation) Description() string { return "test plugin" }
func (i fakeImplementation) CreateFn() CreateFn  { return CreateFn(i) }

func testCPUCaps() signature.CPUCaps {
	return signature.CPUCaps{
		Pstates: signature.NewPstates(2401000, 2400000, 2200000, 2000000, 1800000,
			1600000, 1400000, 1200000, 1000000),
		Turbo: true,
	}
}

func testContext(processes int) *PolicyContext {
	ctx := NewPolicyContext(testCPUCaps(), signature.IMCCaps{}, processes, 4)
	ctx.Options = *(defaultOptions().(*Options))
	return ctx
}

// a compute bound signature under the default thresholds
func compSig() signature.Signature {
	return signature.Signature{
		Time:       1.0,
		CPI:        0.4,
		GBS:        10,
		DCPower:    300,
		PercMPI:    0.10,
		Gflops:     50,
		IOMBS:      1,
		AvgCPUFreq: 2400000,
	}
}

func busySig() signature.Signature {
	s := compSig()
	s.CPI = 0.3
	s.GBS = 0.5
	s.Gflops = 0.01
	return s
}

func ioSig(busy bool) signature.Signature {
	s := compSig()
	if busy {
		s = busySig()
	}
	s.IOMBS = 100
	return s
}

func allFreqs(n int, f signature.Freq) []signature.Freq {
	freqs := make([]signature.Freq, n)
	for i := range freqs {
		freqs[i] = f
	}
	return freqs
}

func TestNodeApplyPhases(t *testing.T) {
	type step struct {
		sig     signature.Signature
		calls   []string
		status  Status
		phase   classify.Phase
		applied bool
		cores   signature.Freq
	}

	for _, tc := range []struct {
		name      string
		noPhases  bool
		sequences []step
	}{
		{
			name: "compute bound",
			sequences: []step{
				{sig: compSig(), calls: []string{"apply"}, status: Ready, phase: classify.CompBound, applied: true, cores: 2 * GHz},
			},
		},
		{
			name: "busy waiting, then back to compute",
			sequences: []step{
				{sig: busySig(), calls: []string{"busy"}, status: Ready, phase: classify.BusyWaiting, applied: true, cores: 1 * GHz},
				{sig: compSig(), calls: []string{"restore"}, status: Continue, phase: classify.CompBound, applied: true, cores: 2 * GHz},
				{sig: compSig(), calls: []string{"apply"}, status: Ready, phase: classify.CompBound, applied: true, cores: 2 * GHz},
			},
		},
		{
			name: "busy I/O, then idle I/O",
			sequences: []step{
				{sig: ioSig(true), calls: []string{"io"}, status: Ready, phase: classify.IOBound, applied: true, cores: 1 * GHz},
				{sig: ioSig(false), calls: []string{"restore"}, status: Continue, phase: classify.IOBound, applied: true, cores: 2 * GHz},
				{sig: ioSig(false), calls: []string{"apply"}, status: Ready, phase: classify.CompBound, applied: true, cores: 2 * GHz},
			},
		},
		{
			name: "I/O without a busy phase is computation",
			sequences: []step{
				{sig: ioSig(false), calls: []string{"apply"}, status: Ready, phase: classify.CompBound, applied: true, cores: 2 * GHz},
			},
		},
		{
			name:     "phases disabled",
			noPhases: true,
			sequences: []step{
				{sig: busySig(), calls: []string{"apply"}, status: Ready, phase: classify.BusyWaiting, applied: true, cores: 2 * GHz},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(1)
			ctx.Options.UsePhases = !tc.noPhases
			plugin := &fakePlugin{status: Ready, freqs: []signature.Freq{2 * GHz}}
			node, err := NewNode(ctx, plugin)
			require.NoError(t, err)

			for i, s := range tc.sequences {
				sig := s.sig
				d, err := node.Apply(&sig)
				require.NoError(t, err)
				require.Equal(t, s.calls, plugin.takeCalls(), "step %d", i)
				require.Equal(t, s.status, d.Status, "step %d", i)
				require.Equal(t, s.phase, d.Phase, "step %d", i)
				require.Equal(t, s.applied, d.Applied, "step %d", i)
				if s.applied {
					require.Equal(t, allFreqs(4, s.cores), d.Cores, "step %d", i)
				}
			}
		})
	}
}

func TestNodeApplyTryAgainAndContinue(t *testing.T) {
	ctx := testContext(1)
	plugin := &fakePlugin{status: TryAgain, freqs: []signature.Freq{2 * GHz}}
	node, err := NewNode(ctx, plugin)
	require.NoError(t, err)

	sig := compSig()
	d, err := node.Apply(&sig)
	require.NoError(t, err)
	require.True(t, d.Applied)
	require.Equal(t, 2*GHz, ctx.Freq)

	plugin.status = Continue
	plugin.freqs = []signature.Freq{1 * GHz}
	d, err = node.Apply(&sig)
	require.NoError(t, err)
	require.False(t, d.Applied)
	require.Equal(t, allFreqs(1, 2*GHz), node.Current().CPU)
}

func TestNodeFloorAndClamp(t *testing.T) {
	for _, tc := range []struct {
		name     string
		selected signature.Freq
		minFreq  signature.Freq
		turbo    bool
		expected signature.Freq
	}{
		{name: "below the floor", selected: 1 * GHz, minFreq: 1600000, expected: 1600000},
		{name: "above the floor", selected: 2 * GHz, minFreq: 1600000, expected: 2 * GHz},
		{name: "turbo kept without model turbo", selected: 2401000, expected: 2401000},
		{name: "turbo allowed", selected: 2401000, turbo: true, expected: 2401000},
		{name: "above the hardware maximum", selected: 3 * GHz, expected: 2401000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(1)
			ctx.Options.MinFreq = tc.minFreq
			ctx.Options.Turbo = tc.turbo
			node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{tc.selected}})
			require.NoError(t, err)

			sig := compSig()
			d, err := node.Apply(&sig)
			require.NoError(t, err)
			require.Equal(t, allFreqs(1, tc.expected), d.Freqs.CPU)
			require.Equal(t, tc.expected, d.Max)
			require.Equal(t, tc.expected, d.Min)
		})
	}
}

func TestNodeGPUClamp(t *testing.T) {
	ctx := testContext(1)
	ctx.GPU = signature.GPUCaps{Pstates: []signature.Pstates{
		signature.NewPstates(1500000, 1200000, 900000),
	}}
	ctx.GPUDefaults = []signature.Freq{3 * GHz}
	node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{2 * GHz}})
	require.NoError(t, err)

	sig := compSig()
	sig.GPUs = []signature.GPUSignature{{Util: 80, Power: 200}}
	d, err := node.Apply(&sig)
	require.NoError(t, err)
	require.Equal(t, []signature.Freq{1500000}, d.Freqs.GPU)
}

func TestNodePowercap(t *testing.T) {
	for _, tc := range []struct {
		name     string
		enabled  bool
		limit    float64
		expected signature.Freq
	}{
		// 300W at 2.4GHz scales down to 200W at 1.6GHz
		{name: "limited", enabled: true, limit: 200, expected: 1600000},
		{name: "above the signature power", enabled: true, limit: 400, expected: 2400000},
		{name: "no limit", enabled: true, expected: 2400000},
		{name: "disabled", limit: 200, expected: 2400000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(1)
			ctx.Options.Powercap = tc.enabled
			ctx.PowercapLimit = tc.limit
			node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{2400000}})
			require.NoError(t, err)

			sig := compSig()
			d, err := node.Apply(&sig)
			require.NoError(t, err)
			require.Equal(t, allFreqs(1, tc.expected), d.Freqs.CPU)
		})
	}
}

func TestNodeProcessMapping(t *testing.T) {
	ctx := testContext(2)
	state := shared.NewNodeState(2)
	master, err := state.Master(0)
	require.NoError(t, err)
	ctx.Master = master

	masks := []string{"0-1", "2-3"}
	for i, m := range masks {
		p, err := state.Process(i)
		require.NoError(t, err)
		p.SetAffinity(cpuset.MustParse(m))
	}

	node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{2 * GHz, 1600000}})
	require.NoError(t, err)

	sig := compSig()
	d, err := node.Apply(&sig)
	require.NoError(t, err)
	require.Equal(t, []signature.Freq{2 * GHz, 2 * GHz, 1600000, 1600000}, d.Cores)
	require.Equal(t, 2*GHz, d.Max)
	require.Equal(t, signature.Freq(1600000), d.Min)
	require.Equal(t, signature.Freq(1800000), d.AvgCPU)

	p, err := state.Process(1)
	require.NoError(t, err)
	require.Equal(t, signature.Freq(1600000), p.Freq())
	require.Equal(t, uint64(1), state.Decision().Sequence)
}

func TestNodeDefault(t *testing.T) {
	ctx := testContext(1)
	node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{1 * GHz}})
	require.NoError(t, err)

	sig := compSig()
	_, err = node.Apply(&sig)
	require.NoError(t, err)
	require.Equal(t, 1*GHz, ctx.Freq)

	require.False(t, node.AtDefault())

	d := node.Default()
	require.True(t, d.Applied)
	require.Equal(t, allFreqs(4, 2400000), d.Cores)
	require.Equal(t, signature.Freq(2400000), ctx.Freq)
	require.True(t, node.AtDefault())
}

func TestNodeOK(t *testing.T) {
	last := compSig()

	for _, tc := range []struct {
		name       string
		cur        func() signature.Signature
		pluginOK   bool
		monitoring bool
		noLast     bool
		ok         bool
		calls      []string
	}{
		{
			name:   "no previous decision",
			cur:    compSig,
			noLast: true,
			ok:     true,
		},
		{
			name:  "plugin rejects",
			cur:   compSig,
			calls: []string{"ok"},
		},
		{
			name: "negative savings",
			cur: func() signature.Signature {
				s := compSig()
				s.Gflops = 40
				return s
			},
			pluginOK: true,
			calls:    []string{"ok"},
		},
		{
			name: "negative savings while monitoring",
			cur: func() signature.Signature {
				s := compSig()
				s.Gflops = 40
				return s
			},
			pluginOK:   true,
			monitoring: true,
			ok:         true,
			calls:      []string{"ok"},
		},
		{
			name: "positive savings",
			cur: func() signature.Signature {
				s := compSig()
				s.DCPower = 250
				return s
			},
			pluginOK: true,
			ok:       true,
			calls:    []string{"ok"},
		},
		{
			name: "no floating point work",
			cur: func() signature.Signature {
				s := compSig()
				s.Gflops = 0
				return s
			},
			pluginOK: true,
			ok:       true,
			calls:    []string{"ok"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plugin := &fakePlugin{ok: tc.pluginOK, monitoring: tc.monitoring}
			node, err := NewNode(testContext(1), plugin)
			require.NoError(t, err)

			cur := tc.cur()
			var lastSig *signature.Signature
			if !tc.noLast {
				lastSig = &last
			}
			res, err := node.OK(&cur, lastSig)
			require.NoError(t, err)
			require.Equal(t, tc.ok, res.OK)
			require.Equal(t, tc.calls, plugin.takeCalls())
		})
	}
}

func TestNodeOKWaitsForProcesses(t *testing.T) {
	ctx := testContext(2)
	state := shared.NewNodeState(2)
	master, err := state.Master(0)
	require.NoError(t, err)
	ctx.Master = master

	plugin := &fakePlugin{ok: false}
	node, err := NewNode(ctx, plugin)
	require.NoError(t, err)

	cur, last := compSig(), compSig()
	p0, _ := state.Process(0)
	p0.Publish(&cur, mpistats.Info{}, mpistats.CallTypes{})

	res, err := node.OK(&cur, &last)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Empty(t, plugin.takeCalls())

	p1, _ := state.Process(1)
	p1.Publish(&cur, mpistats.Info{}, mpistats.CallTypes{})

	res, err = node.OK(&cur, &last)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, []string{"ok"}, plugin.takeCalls())
	require.False(t, master.AllReady())
	require.Zero(t, master.ReadyCount())
}

func TestNodeNewIteration(t *testing.T) {
	ctx := testContext(1)
	node, err := NewNode(ctx, &fakePlugin{status: Ready, freqs: []signature.Freq{2 * GHz}})
	require.NoError(t, err)

	busy := busySig()
	_, err = node.Apply(&busy)
	require.NoError(t, err)
	require.NoError(t, node.NewIteration(&busy))

	comp := compSig()
	require.ErrorIs(t, node.NewIteration(&comp), ErrPhaseChanged)
	require.NoError(t, node.NewIteration(&comp))

	idle := compSig()
	idle.GPUs = []signature.GPUSignature{{Util: 0}}
	_, err = node.Apply(&idle)
	require.NoError(t, err)

	active := compSig()
	active.GPUs = []signature.GPUSignature{{Util: 30}}
	require.ErrorIs(t, node.NewIteration(&active), ErrGPUActive)
	require.NoError(t, node.NewIteration(&active))
}

func TestNodeMaxTries(t *testing.T) {
	ctx := testContext(1)
	node, err := NewNode(ctx, &fakePlugin{})
	require.NoError(t, err)
	require.Equal(t, 2, node.MaxTries())

	ctx.Options.MaxTries = 5
	require.Equal(t, 5, node.MaxTries())
}

func TestPolicyStatus(t *testing.T) {
	for status, expected := range map[Status]string{
		Continue:   "try-again",
		TryAgain:   "try-again",
		Ready:      "ready",
		GlobalEval: "global-eval",
	} {
		require.Equal(t, expected, PolicyStatus(status).String(), "status %s", status)
	}
}
