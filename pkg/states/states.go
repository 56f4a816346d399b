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

// Package states implements the per-loop policy state machine.
//
// The machine is a pure function of its state and an event. It never
// measures, decides or actuates anything itself: it returns the actions the
// runtime has to execute, and the runtime feeds their results back as events.
package states

import (
	"fmt"
	"time"
)

// State is the state of the machine.
type State int

const (
	// TestLoop waits for the loop to run long enough to be worth evaluating.
	TestLoop State = iota
	// FirstIteration computes the number of iterations of a signature.
	FirstIteration
	// EvaluatingLocalSignature accumulates iterations, computes the signature
	// and applies the node policy.
	EvaluatingLocalSignature
	// EvaluatingGlobalSignature waits for an application level decision.
	EvaluatingGlobalSignature
	// SignatureStable re-measures the loop and validates the decision.
	SignatureStable
	// SignatureHasChanged restarts the measurements of a changed loop.
	SignatureHasChanged
	// RecomputingN recomputes the number of iterations after a frequency change.
	RecomputingN
	// ProjectionError runs the loop at the default frequency after too many tries.
	ProjectionError
)

var stateNames = map[State]string{
	TestLoop:                  "test-loop",
	FirstIteration:            "first-iteration",
	EvaluatingLocalSignature:  "evaluating-local-signature",
	EvaluatingGlobalSignature: "evaluating-global-signature",
	SignatureStable:           "signature-stable",
	SignatureHasChanged:       "signature-has-changed",
	RecomputingN:              "recomputing-n",
	ProjectionError:           "projection-error",
}

// String returns the name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state-%d", int(s))
}

// Config is the run-time constant configuration of the machine.
type Config struct {
	// MinTime is the minimum time a signature must span to be accurate.
	MinTime time.Duration
	// MaxTries bounds the consecutive frequency changes within a loop.
	MaxTries int
	// Tracing keeps the signature period constant while the policy is ok.
	Tracing bool
	// Periodic is set when iterations are time periods rather than
	// detected loop iterations. A signature is then attempted every period.
	Periodic bool
}

// Machine is the state of the policy state machine of one loop.
type Machine struct {
	Config Config
	State  State
	// N is the number of iterations a signature spans.
	N int
	// N10p is the period of the signature accuracy short-circuit check.
	N10p int
	// Tries counts the frequency changes within the loop.
	Tries int
	// Begin is the start of the current timing window.
	Begin time.Time
	// SignatureBegin is the start of the current signature window.
	SignatureBegin time.Time
	// BeginIteration is the iteration the current signature started at.
	BeginIteration int
	// Iteration and Now are the last iteration seen and its time.
	Iteration int
	Now       time.Time
	// HasSignature is set once the loop got a signature.
	HasSignature bool
}

// Begin starts the state machine of a new loop.
func Begin(cfg Config, now time.Time) (Machine, []Action) {
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	m := Machine{
		Config: cfg,
		State:  TestLoop,
		N:      1,
		N10p:   1,
		Begin:  now,
		Now:    now,
	}
	return m, []Action{LoopInit{}}
}

// Event is an input of the state machine.
type Event interface {
	isEvent()
}

// NewIteration is a new iteration of the loop.
type NewIteration struct {
	Iteration int
	Now       time.Time
}

// NewIterationFailed is sent instead of NewIteration when the policy
// detected a new application phase at the start of the iteration.
type NewIterationFailed struct {
	Now time.Time
}

// SignatureComputed is the result of ComputeSignature.
type SignatureComputed struct {
	Ready bool
}

// PolicyStatus is the outcome of a node policy application.
type PolicyStatus int

const (
	// PolicyTryAgain means the policy needs another signature.
	PolicyTryAgain PolicyStatus = iota
	// PolicyReady means the policy converged.
	PolicyReady
	// PolicyGlobalEval means an application level decision is pending.
	PolicyGlobalEval
)

// String returns the policy status as a string.
func (s PolicyStatus) String() string {
	switch s {
	case PolicyTryAgain:
		return "try-again"
	case PolicyReady:
		return "ready"
	case PolicyGlobalEval:
		return "global-eval"
	}
	return fmt.Sprintf("policy-status-%d", int(s))
}

// PolicyApplied is the result of ApplyNodePolicy.
type PolicyApplied struct {
	Status PolicyStatus
	// FreqChanged is set if the selected frequency differs from the one in force.
	FreqChanged bool
}

// GlobalApplied is the result of ApplyAppPolicy.
type GlobalApplied struct {
	Ready bool
}

// PolicyChecked is the result of CheckPolicy.
type PolicyChecked struct {
	OK bool
	// Equivalent is set if the signature is statistically the same as the
	// one the decision was taken for.
	Equivalent bool
	// AtDefault is set if the loop runs at the default frequency.
	AtDefault bool
}

// Reschedule is an externally forced re-evaluation.
type Reschedule struct {
	Now time.Time
}

// LoopEnd is the end of the loop.
type LoopEnd struct {
	Iterations int
}

func (NewIteration) isEvent()       {}
func (NewIterationFailed) isEvent() {}
func (SignatureComputed) isEvent()  {}
func (PolicyApplied) isEvent()      {}
func (GlobalApplied) isEvent()      {}
func (PolicyChecked) isEvent()      {}
func (Reschedule) isEvent()         {}
func (LoopEnd) isEvent()            {}

// Action is an output of the state machine, to be executed by the runtime.
type Action interface {
	isAction()
}

// LoopInit resets the per-loop state of the policy.
type LoopInit struct{}

// BeginSignature starts accumulating metrics for a signature.
type BeginSignature struct{}

// ComputeSignature computes the signature of the last N iterations and
// answers with SignatureComputed.
type ComputeSignature struct {
	N int
}

// ApplyNodePolicy runs the node policy and answers with PolicyApplied.
type ApplyNodePolicy struct{}

// ApplyAppPolicy runs the application policy and answers with GlobalApplied.
type ApplyAppPolicy struct{}

// CheckPolicy validates the current decision and answers with PolicyChecked.
type CheckPolicy struct{}

// SetDefaultFreq restores the default frequencies.
type SetDefaultFreq struct{}

// ReportLoop reports the loop signature.
type ReportLoop struct {
	Iterations int
}

// ReportMaxTries reports that the policy gave up on the loop.
type ReportMaxTries struct{}

func (LoopInit) isAction()         {}
func (BeginSignature) isAction()   {}
func (ComputeSignature) isAction() {}
func (ApplyNodePolicy) isAction()  {}
func (ApplyAppPolicy) isAction()   {}
func (CheckPolicy) isAction()      {}
func (SetDefaultFreq) isAction()   {}
func (ReportLoop) isAction()       {}
func (ReportMaxTries) isAction()   {}

// Step feeds an event to the machine, returning the new machine and the
// actions to execute, in order.
func Step(m Machine, ev Event) (Machine, []Action) {
	switch e := ev.(type) {
	case NewIteration:
		return m.newIteration(e)
	case NewIterationFailed:
		m.Now = e.Now
		m.Begin = e.Now
		m.State = FirstIteration
		return m, []Action{SetDefaultFreq{}}
	case Reschedule:
		m.Now = e.Now
		m.Begin = e.Now
		m.State = SignatureHasChanged
		m.Tries = 0
		return m, nil
	case SignatureComputed:
		return m.signatureComputed(e)
	case PolicyApplied:
		return m.policyApplied(e)
	case GlobalApplied:
		if m.State == EvaluatingGlobalSignature && e.Ready {
			m.State = EvaluatingLocalSignature
		}
		return m, nil
	case PolicyChecked:
		return m.policyChecked(e)
	case LoopEnd:
		if m.HasSignature {
			return m, []Action{ReportLoop{Iterations: e.Iterations}}
		}
		return m, nil
	}
	return m, nil
}

func (m Machine) newIteration(e NewIteration) (Machine, []Action) {
	m.Iteration = e.Iteration
	m.Now = e.Now

	switch m.State {
	case TestLoop:
		if e.Now.Sub(m.Begin) > m.Config.MinTime/10 {
			m.Begin = e.Now
			m.State = FirstIteration
		}
		return m, nil

	case FirstIteration:
		m.computeN(e.Now.Sub(m.Begin))
		m.State = EvaluatingLocalSignature
		m.BeginIteration = e.Iteration
		m.SignatureBegin = e.Now
		return m, []Action{BeginSignature{}}

	case SignatureHasChanged:
		m.computeN(e.Now.Sub(m.Begin))
		m.State = EvaluatingLocalSignature
		return m, nil

	case RecomputingN:
		m.computeN(e.Now.Sub(m.Begin))
		m.State = SignatureStable
		return m, nil

	case EvaluatingLocalSignature:
		if !m.Config.Periodic {
			if e.Iteration%m.N10p == 0 && e.Now.Sub(m.SignatureBegin) >= m.Config.MinTime {
				m.N = e.Iteration - 1
				if m.N < 1 {
					m.N = 1
				}
			}
			if (e.Iteration-1)%m.N != 0 || e.Iteration == 1 {
				return m, nil
			}
		}
		return m, []Action{ComputeSignature{N: e.Iteration - m.BeginIteration}}

	case SignatureStable:
		if !m.Config.Periodic && (e.Iteration-1)%m.N != 0 {
			return m, nil
		}
		return m, []Action{ComputeSignature{N: e.Iteration - m.BeginIteration}}

	case EvaluatingGlobalSignature:
		return m, []Action{ApplyAppPolicy{}}
	}

	return m, nil
}

// computeN computes the number of iterations needed to span the minimum
// accuracy time, given the duration of the timing window of one iteration.
func (m *Machine) computeN(elapsed time.Duration) {
	usecs := elapsed.Microseconds()
	if usecs <= 0 {
		usecs = 1
	}
	minTime := m.Config.MinTime.Microseconds()
	if usecs < minTime {
		m.N = int(minTime/usecs) + 1
	} else {
		m.N = 1
	}
	m.N10p = m.N / 10
	if m.N10p == 0 {
		m.N10p = 1
	}
}

func (m Machine) signatureComputed(e SignatureComputed) (Machine, []Action) {
	if m.State != EvaluatingLocalSignature && m.State != SignatureStable {
		return m, nil
	}
	if !e.Ready {
		m.N++
		return m, nil
	}

	m.HasSignature = true
	iterations := m.Iteration
	m.BeginIteration = m.Iteration
	m.SignatureBegin = m.Now

	if m.State == EvaluatingLocalSignature {
		return m, []Action{ApplyNodePolicy{}, ReportLoop{Iterations: iterations}}
	}
	return m, []Action{ReportLoop{Iterations: iterations}, CheckPolicy{}}
}

func (m Machine) policyApplied(e PolicyApplied) (Machine, []Action) {
	if m.State != EvaluatingLocalSignature {
		return m, nil
	}
	switch e.Status {
	case PolicyReady:
		if e.FreqChanged && !m.Config.Periodic {
			m.Tries++
			m.Begin = m.Now
			m.State = RecomputingN
		} else {
			m.State = SignatureStable
		}
	case PolicyGlobalEval:
		m.State = EvaluatingGlobalSignature
	}
	return m, nil
}

func (m Machine) policyChecked(e PolicyChecked) (Machine, []Action) {
	if m.State != SignatureStable {
		return m, nil
	}

	if e.OK {
		if !m.Config.Tracing {
			m.N *= 2
		}
		m.Tries = 0
		return m, nil
	}

	actions := []Action{SetDefaultFreq{}}
	m.State = EvaluatingLocalSignature

	if (m.Tries < m.Config.MaxTries && e.AtDefault) || m.Config.Periodic {
		return m, actions
	}

	if m.Tries >= m.Config.MaxTries {
		m.State = ProjectionError
		return m, append(actions, ReportMaxTries{})
	}

	if !e.Equivalent {
		m.State = SignatureHasChanged
		m.Begin = m.Now
		actions = append(actions, LoopInit{})
	}

	return m, actions
}
