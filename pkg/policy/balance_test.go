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
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
)

func infosFromPercs(percs ...float64) []mpistats.Info {
	infos := make([]mpistats.Info, len(percs))
	for i, p := range percs {
		infos[i] = mpistats.Info{
			ExecTime: 100 * time.Second,
			MPITime:  time.Duration(p * float64(time.Second)),
			PercMPI:  p,
		}
	}
	return infos
}

func TestBalanceCheck(t *testing.T) {
	b := NewBalance(mpistats.DefaultLoadBalanceConfig(), mpistats.DefaultProximityFactor)

	for _, s := range []struct {
		name       string
		percs      []float64
		reset      bool
		ok         bool
		unbalanced bool
	}{
		{name: "balanced", percs: []float64{10, 10, 10, 10}, ok: true},
		{name: "becomes unbalanced", percs: []float64{5, 7, 6, 40}, unbalanced: true},
		{name: "first unbalanced baseline", percs: []float64{5, 7, 6, 40}, ok: true, unbalanced: true},
		{name: "stable profile", percs: []float64{5, 7, 6, 40}, ok: true, unbalanced: true},
		{name: "magnitude grows", percs: []float64{5, 7, 6, 60}, unbalanced: true},
		{name: "after reset", percs: []float64{5, 7, 6, 60}, reset: true, ok: true, unbalanced: true},
		{name: "becomes balanced", percs: []float64{10, 10, 10, 10}},
		{name: "stays balanced", percs: []float64{10, 11, 10, 10}, ok: true},
	} {
		if s.reset {
			b.Reset()
		}
		require.Equal(t, s.ok, b.Check(infosFromPercs(s.percs...)), s.name)
		require.Equal(t, s.unbalanced, b.Unbalanced(), s.name)
	}
}

func TestBalanceCriticalPath(t *testing.T) {
	b := NewBalance(mpistats.DefaultLoadBalanceConfig(), mpistats.DefaultProximityFactor)
	b.Check(infosFromPercs(5, 7, 6, 40))

	require.Equal(t, []bool{true, true, true, false}, b.CriticalPath().Set)
	require.True(t, b.Critical(0))
	require.False(t, b.Critical(3))
	require.False(t, b.Critical(7))
	require.InDelta(t, 14.5, b.LoadBalance().Mean, 1e-9)
}

func TestBalanceSingleProcess(t *testing.T) {
	b := NewBalance(mpistats.DefaultLoadBalanceConfig(), mpistats.DefaultProximityFactor)
	require.True(t, b.Check(infosFromPercs(50)))
	require.False(t, b.Unbalanced())
}

func TestDecisionOK(t *testing.T) {
	for _, tc := range []struct {
		name     string
		model    bool
		modify   func(s *signature.Signature)
		expected bool
	}{
		{
			name:     "model-free, unchanged",
			modify:   func(s *signature.Signature) {},
			expected: true,
		},
		{
			name:     "model-free, time within tolerance",
			modify:   func(s *signature.Signature) { s.Time *= 1.2 },
			expected: true,
		},
		{
			name:     "model-free, time drifted",
			modify:   func(s *signature.Signature) { s.Time *= 1.5 },
			expected: false,
		},
		{
			name:     "model, time is not compared",
			model:    true,
			modify:   func(s *signature.Signature) { s.Time *= 1.5 },
			expected: true,
		},
		{
			name:     "model, no longer compute bound",
			model:    true,
			modify:   func(s *signature.Signature) { s.CPI = 0.9 },
			expected: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(1)
			if tc.model {
				ctx.Model = fakeModel{}
			}
			last, cur := compSig(), compSig()
			tc.modify(&cur)
			require.Equal(t, tc.expected, DecisionOK(ctx, nil, &cur, &last))
		})
	}
}

func TestDecisionOKLoadBalance(t *testing.T) {
	ctx := testContext(4)
	ctx.Model = fakeModel{}
	ctx.MPI = true
	state := shared.NewNodeState(4)
	master, err := state.Master(0)
	require.NoError(t, err)
	ctx.Master = master

	publish := func(percs ...float64) {
		sig := compSig()
		for i, info := range infosFromPercs(percs...) {
			p, err := state.Process(i)
			require.NoError(t, err)
			p.Publish(&sig, info, mpistats.CallTypes{})
		}
	}

	b := NewBalance(ctx.Options.Balance, ctx.Options.ProximityFactor)
	last, cur := compSig(), compSig()

	publish(10, 10, 10, 10)
	require.True(t, DecisionOK(ctx, b, &cur, &last))

	publish(5, 7, 6, 40)
	require.False(t, DecisionOK(ctx, b, &cur, &last))

	publish(5, 7, 6, 40)
	require.True(t, DecisionOK(ctx, b, &cur, &last))
	require.True(t, b.Unbalanced())

	ctx.Options.LoadBalance = false
	publish(10, 10, 10, 10)
	require.True(t, DecisionOK(ctx, b, &cur, &last))
	require.True(t, b.Unbalanced())
}

type fakeModel struct{}

func (fakeModel) Available(from, to int) bool {
	return true
}

func (fakeModel) Project(sig *signature.Signature, from, to int) (float64, float64, error) {
	return sig.Time, sig.DCPower, nil
}
