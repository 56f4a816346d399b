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

package states

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{MinTime: time.Second, MaxTries: 2}
}

func at(usecs int) time.Time {
	return t0.Add(time.Duration(usecs) * time.Microsecond)
}

func TestTestLoopThreshold(t *testing.T) {
	m, actions := Begin(testConfig(), t0)
	require.Equal(t, []Action{LoopInit{}}, actions)
	require.Equal(t, TestLoop, m.State)

	for i := 1; i <= 19; i++ {
		m, actions = Step(m, NewIteration{Iteration: i, Now: at(i * 5250)})
		require.Empty(t, actions)
		require.Equal(t, TestLoop, m.State, "iteration %d", i)
	}

	m, actions = Step(m, NewIteration{Iteration: 20, Now: at(20 * 5250)})
	require.Empty(t, actions)
	require.Equal(t, FirstIteration, m.State)
	require.Equal(t, at(20*5250), m.Begin)

	m, actions = Step(m, NewIteration{Iteration: 21, Now: at(21 * 5250)})
	require.Equal(t, []Action{BeginSignature{}}, actions)
	require.Equal(t, EvaluatingLocalSignature, m.State)
	require.Equal(t, 191, m.N)
	require.Equal(t, 19, m.N10p)
	require.Equal(t, 21, m.BeginIteration)
}

func TestComputeN(t *testing.T) {
	tcases := []struct {
		name    string
		elapsed time.Duration
		n       int
		n10p    int
	}{
		{name: "zero elapsed counts as one microsecond", elapsed: 0, n: 1000001, n10p: 100000},
		{name: "short iteration", elapsed: 5250 * time.Microsecond, n: 191, n10p: 19},
		{name: "tenth of the minimum", elapsed: 50 * time.Millisecond, n: 21, n10p: 2},
		{name: "few iterations", elapsed: 400 * time.Millisecond, n: 3, n10p: 1},
		{name: "exactly the minimum", elapsed: time.Second, n: 1, n10p: 1},
		{name: "long iteration", elapsed: 2 * time.Second, n: 1, n10p: 1},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			m := Machine{Config: testConfig()}
			m.computeN(tc.elapsed)
			require.Equal(t, tc.n, m.N)
			require.Equal(t, tc.n10p, m.N10p)
		})
	}
}

func evaluating(n int) Machine {
	return Machine{
		Config:         testConfig(),
		State:          EvaluatingLocalSignature,
		N:              n,
		N10p:           1,
		BeginIteration: 1,
		SignatureBegin: t0,
		Begin:          t0,
	}
}

func TestEvaluatingLocalSignature(t *testing.T) {
	m := evaluating(4)
	var actions []Action

	for i := 2; i <= 4; i++ {
		m, actions = Step(m, NewIteration{Iteration: i, Now: at(i * 1000)})
		require.Empty(t, actions)
	}
	m, actions = Step(m, NewIteration{Iteration: 5, Now: at(5000)})
	require.Equal(t, []Action{ComputeSignature{N: 4}}, actions)

	m, actions = Step(m, SignatureComputed{Ready: false})
	require.Empty(t, actions)
	require.Equal(t, 5, m.N)
	require.Equal(t, EvaluatingLocalSignature, m.State)

	m, actions = Step(m, SignatureComputed{Ready: true})
	require.Equal(t, []Action{ApplyNodePolicy{}, ReportLoop{Iterations: 5}}, actions)
	require.Equal(t, 5, m.BeginIteration)
	require.True(t, m.HasSignature)

	changed, _ := Step(m, PolicyApplied{Status: PolicyReady, FreqChanged: true})
	require.Equal(t, RecomputingN, changed.State)
	require.Equal(t, 1, changed.Tries)
	require.Equal(t, at(5000), changed.Begin)

	changed, actions = Step(changed, NewIteration{Iteration: 6, Now: at(5000 + 250000)})
	require.Empty(t, actions)
	require.Equal(t, SignatureStable, changed.State)
	require.Equal(t, 5, changed.N)

	stable, _ := Step(m, PolicyApplied{Status: PolicyReady})
	require.Equal(t, SignatureStable, stable.State)
	require.Equal(t, 0, stable.Tries)

	again, _ := Step(m, PolicyApplied{Status: PolicyTryAgain})
	require.Equal(t, EvaluatingLocalSignature, again.State)
}

func TestAccuracyShortCircuit(t *testing.T) {
	m := evaluating(100)
	m.N10p = 10

	m, actions := Step(m, NewIteration{Iteration: 20, Now: t0.Add(500 * time.Millisecond)})
	require.Empty(t, actions)
	require.Equal(t, 100, m.N)

	m, actions = Step(m, NewIteration{Iteration: 21, Now: t0.Add(2 * time.Second)})
	require.Empty(t, actions)
	require.Equal(t, 100, m.N)

	m, actions = Step(m, NewIteration{Iteration: 30, Now: t0.Add(2 * time.Second)})
	require.Equal(t, 29, m.N)
	require.Equal(t, []Action{ComputeSignature{N: 29}}, actions)
}

func TestGlobalEvaluation(t *testing.T) {
	m := evaluating(1)
	m, _ = Step(m, PolicyApplied{Status: PolicyGlobalEval})
	require.Equal(t, EvaluatingGlobalSignature, m.State)

	m, actions := Step(m, NewIteration{Iteration: 2, Now: at(1000)})
	require.Equal(t, []Action{ApplyAppPolicy{}}, actions)

	m, _ = Step(m, GlobalApplied{Ready: false})
	require.Equal(t, EvaluatingGlobalSignature, m.State)
	m, _ = Step(m, GlobalApplied{Ready: true})
	require.Equal(t, EvaluatingLocalSignature, m.State)
}

func stable(n, tries int) Machine {
	m := evaluating(n)
	m.State = SignatureStable
	m.Tries = tries
	m.Now = at(9000)
	return m
}

func TestSignatureStable(t *testing.T) {
	m := stable(4, 0)
	m, actions := Step(m, NewIteration{Iteration: 4, Now: at(4000)})
	require.Empty(t, actions)
	m, actions = Step(m, NewIteration{Iteration: 5, Now: at(5000)})
	require.Equal(t, []Action{ComputeSignature{N: 4}}, actions)

	m, actions = Step(m, SignatureComputed{Ready: true})
	require.Equal(t, []Action{ReportLoop{Iterations: 5}, CheckPolicy{}}, actions)

	ok, actions := Step(m, PolicyChecked{OK: true})
	require.Empty(t, actions)
	require.Equal(t, SignatureStable, ok.State)
	require.Equal(t, 8, ok.N)

	m.Config.Tracing = true
	m.Tries = 1
	ok, _ = Step(m, PolicyChecked{OK: true})
	require.Equal(t, 4, ok.N)
	require.Equal(t, 0, ok.Tries)
}

func TestPolicyNotOK(t *testing.T) {
	tcases := []struct {
		name     string
		tries    int
		periodic bool
		checked  PolicyChecked
		state    State
		actions  []Action
	}{
		{
			name:    "retry at default",
			tries:   1,
			checked: PolicyChecked{AtDefault: true},
			state:   EvaluatingLocalSignature,
			actions: []Action{SetDefaultFreq{}},
		},
		{
			name:    "max tries",
			tries:   2,
			checked: PolicyChecked{AtDefault: true},
			state:   ProjectionError,
			actions: []Action{SetDefaultFreq{}, ReportMaxTries{}},
		},
		{
			name:    "signature changed",
			tries:   1,
			checked: PolicyChecked{},
			state:   SignatureHasChanged,
			actions: []Action{SetDefaultFreq{}, LoopInit{}},
		},
		{
			name:    "signature equivalent",
			tries:   1,
			checked: PolicyChecked{Equivalent: true},
			state:   EvaluatingLocalSignature,
			actions: []Action{SetDefaultFreq{}},
		},
		{
			name:     "periodic never gives up",
			tries:    5,
			periodic: true,
			checked:  PolicyChecked{},
			state:    EvaluatingLocalSignature,
			actions:  []Action{SetDefaultFreq{}},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			m := stable(4, tc.tries)
			m.Config.Periodic = tc.periodic
			next, actions := Step(m, tc.checked)
			require.Equal(t, tc.state, next.State)
			require.Equal(t, tc.actions, actions)
			if tc.state == SignatureHasChanged {
				require.Equal(t, m.Now, next.Begin)
			}
		})
	}
}

func TestProjectionErrorIsTerminal(t *testing.T) {
	m := stable(4, 2)
	m, _ = Step(m, PolicyChecked{})
	require.Equal(t, ProjectionError, m.State)
	for i := 10; i < 20; i++ {
		var actions []Action
		m, actions = Step(m, NewIteration{Iteration: i, Now: at(i * 1000)})
		require.Empty(t, actions)
		require.Equal(t, ProjectionError, m.State)
	}
}

func TestReschedule(t *testing.T) {
	for s := TestLoop; s <= ProjectionError; s++ {
		t.Run(s.String(), func(t *testing.T) {
			m := stable(4, 2)
			m.State = s
			m, actions := Step(m, Reschedule{Now: at(42)})
			require.Empty(t, actions)
			require.Equal(t, SignatureHasChanged, m.State)
			require.Equal(t, 0, m.Tries)
			require.Equal(t, at(42), m.Begin)
		})
	}
}

func TestNewIterationFailed(t *testing.T) {
	m := stable(4, 0)
	m, actions := Step(m, NewIterationFailed{Now: at(77)})
	require.Equal(t, []Action{SetDefaultFreq{}}, actions)
	require.Equal(t, FirstIteration, m.State)
	require.Equal(t, at(77), m.Begin)
}

func TestIgnoredResults(t *testing.T) {
	m := evaluating(4)
	next, actions := Step(m, PolicyChecked{OK: true})
	require.Empty(t, actions)
	require.Equal(t, m, next)

	m.State = TestLoop
	next, actions = Step(m, SignatureComputed{Ready: true})
	require.Empty(t, actions)
	require.Equal(t, m, next)
}

func TestLoopEnd(t *testing.T) {
	m := evaluating(4)
	_, actions := Step(m, LoopEnd{Iterations: 10})
	require.Empty(t, actions)

	m.HasSignature = true
	_, actions = Step(m, LoopEnd{Iterations: 10})
	require.Equal(t, []Action{ReportLoop{Iterations: 10}}, actions)
}

func TestStepIsPure(t *testing.T) {
	m := evaluating(4)
	orig := m
	_, _ = Step(m, NewIteration{Iteration: 5, Now: at(5000)})
	_, _ = Step(m, PolicyApplied{Status: PolicyReady, FreqChanged: true})
	require.Equal(t, orig, m)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "signature-stable", SignatureStable.String())
	require.Equal(t, "state-42", State(42).String())
	require.Equal(t, "global-eval", PolicyGlobalEval.String())
}
