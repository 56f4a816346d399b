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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/signature"
)

type projection struct {
	time, power float64
}

type fakeModel map[int]projection

func (m fakeModel) Available(from, to int) bool {
	_, ok := m[to]
	return ok
}

func (m fakeModel) Project(sig *signature.Signature, from, to int) (float64, float64, error) {
	p := m[to]
	return p.time, p.power, nil
}

func testContext(turbo bool, model fakeModel) *policy.PolicyContext {
	caps := signature.CPUCaps{
		Pstates: signature.NewPstates(2401000, 2400000, 2200000, 2000000, 1800000),
		Turbo:   true,
	}
	ctx := policy.NewPolicyContext(caps, signature.IMCCaps{}, 1, 4)
	ctx.Options.Turbo = turbo
	if model != nil {
		ctx.Model = model
	}
	return ctx
}

func compSig() signature.Signature {
	return signature.Signature{
		Time:    1.0,
		CPI:     0.4,
		GBS:     10,
		DCPower: 300,
		Gflops:  50,
	}
}

func TestApply(t *testing.T) {
	turboPays := fakeModel{
		0: {time: 0.95, power: 330},
		1: {time: 1.0, power: 300},
	}
	turboDoesNot := fakeModel{
		0: {time: 1.0, power: 330},
		1: {time: 1.0, power: 300},
	}

	for _, tc := range []struct {
		name     string
		turbo    bool
		model    fakeModel
		modify   func(s *signature.Signature)
		expected signature.Freq
	}{
		{name: "model, turbo pays off", turbo: true, model: turboPays, expected: 2401000},
		{name: "model, turbo does not pay off", turbo: true, model: turboDoesNot, expected: 2400000},
		{name: "model, turbo disabled", model: turboPays, expected: 2400000},
		{name: "model-free, compute bound", turbo: true, expected: 2401000},
		{
			name:     "model-free, memory bound",
			turbo:    true,
			modify:   func(s *signature.Signature) { s.CPI = 1.2; s.GBS = 80 },
			expected: 2400000,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(tc.turbo, tc.model)
			p, err := policy.NewPlugin(PluginName, ctx)
			require.NoError(t, err)

			freqs := ctx.NewFreqs()
			p.Default(&freqs)
			sig := compSig()
			if tc.modify != nil {
				tc.modify(&sig)
			}

			status, err := p.Apply(&sig, &freqs)
			require.NoError(t, err)
			require.Equal(t, policy.Ready, status)
			require.Equal(t, []signature.Freq{tc.expected}, freqs.CPU)
		})
	}
}

func TestReferenceFromDefault(t *testing.T) {
	ctx := testContext(true, fakeModel{0: {time: 0.9, power: 330}, 1: {time: 1.0, power: 300}})
	p, err := policy.NewPlugin(PluginName, ctx)
	require.NoError(t, err)

	freqs := ctx.NewFreqs()
	p.Default(&freqs)
	sig := compSig()

	status, err := p.Apply(&sig, &freqs)
	require.NoError(t, err)
	require.Equal(t, policy.Ready, status)
	require.Equal(t, signature.Freq(2401000), freqs.CPU[0])

	status, err = p.Apply(&sig, &freqs)
	require.NoError(t, err)
	require.Equal(t, policy.TryAgain, status)
	require.Equal(t, signature.Freq(2400000), freqs.CPU[0])

	p.BusyWaitSettings(&sig, &freqs)
	require.Equal(t, signature.Freq(1800000), freqs.CPU[0])
	p.RestoreSettings(&sig, &freqs)
	require.Equal(t, signature.Freq(2400000), freqs.CPU[0])
}
