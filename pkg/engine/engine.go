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

// Package engine drives the policy state machine of a loop, executing its
// actions against the node policy, the daemon and the report sinks.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/classify"
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/policycollector"
	"github.com/intel/node-energy-policy/pkg/report"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/states"
)

// ErrNotReady is returned by a SignatureSource when the metrics collected so
// far do not make an accurate signature yet.
var ErrNotReady = errors.New("engine: signature not ready")

// SignatureSource provides the signatures of the running application.
type SignatureSource interface {
	// BeginSignature starts accumulating metrics for a new signature.
	BeginSignature(ctx context.Context) error
	// ReadSignature returns the signature of the metrics accumulated since
	// the last BeginSignature or ReadSignature.
	ReadSignature(ctx context.Context) (signature.Signature, error)
}

// ProcessSignatureSource is a SignatureSource that also knows the signature
// of every process of the job for the last ReadSignature.
type ProcessSignatureSource interface {
	SignatureSource
	// ProcessSignature returns the signature of the process in the given
	// local rank, false if there is none.
	ProcessSignature(rank int) (signature.Signature, bool)
}

// Actuator applies frequency selections on the node.
type Actuator interface {
	ApplyFrequency(ctx context.Context, cores []signature.Freq, freqs signature.NodeFreqs) error
	GetPowercapLimit(ctx context.Context) (float64, error)
}

// Config is the collaborators of an engine.
type Config struct {
	// Node is the node policy.
	Node *policy.Node
	// Context is the policy context of Node.
	Context *policy.PolicyContext
	// Source provides signatures.
	Source SignatureSource
	// Actuator applies decisions, nil for a dry run.
	Actuator Actuator
	// Sink receives reports, nil to report nothing.
	Sink report.Sink
	// Collector exports decisions as metrics, if set.
	Collector *policycollector.PolicyCollector
	// Processes are the processes of the job by local rank. They publish to
	// the shared node state of Context.Master.
	Processes []*Process
}

// Engine runs the policy state machine of a loop.
type Engine struct {
	logger.Logger
	warn      logger.Logger
	cfg       Config
	machine   states.Machine
	tracker   *classify.Tracker
	cur       *signature.Signature // last computed signature
	last      *signature.Signature // signature of the decision in force
	cores     []signature.Freq     // per-core frequencies in force
	lastIter  time.Time
	lastPhase time.Time
	running   bool
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Node == nil || cfg.Context == nil {
		return nil, engineError("missing node policy")
	}
	if cfg.Source == nil {
		return nil, engineError("missing signature source")
	}
	for i, p := range cfg.Processes {
		if p == nil || p.Rank() != i {
			return nil, engineError("process #%d is not in local rank %d", i, i)
		}
	}

	l := logger.NewLogger("engine")
	return &Engine{
		Logger:  l,
		warn:    logger.RateLimit(l, logger.Interval(10*time.Second)),
		cfg:     cfg,
		tracker: classify.NewTracker(),
	}, nil
}

// State returns the state of the machine.
func (e *Engine) State() states.State {
	return e.machine.State
}

// Machine returns a copy of the state machine.
func (e *Engine) Machine() states.Machine {
	return e.machine
}

// Processes returns the number of processes tracked by the engine.
func (e *Engine) Processes() int {
	return len(e.cfg.Processes)
}

// Tracker returns the phase tracker of the engine.
func (e *Engine) Tracker() *classify.Tracker {
	return e.tracker
}

// JobBegin starts the job, resetting the MPI statistics of its processes.
func (e *Engine) JobBegin(now time.Time) {
	for _, p := range e.cfg.Processes {
		p.start(now)
	}
	e.Info("job started with %d processes", e.cfg.Context.Processes)
}

// JobEnd ends the job. A running loop is ended and the default frequencies
// are restored.
func (e *Engine) JobEnd(ctx context.Context) error {
	if e.running {
		if err := e.LoopEnd(ctx, e.machine.Iteration); err != nil {
			return err
		}
	}
	e.actuate(ctx, e.cfg.Node.Default())
	e.Info("job ended after %d phase changes, last phase %s", e.tracker.Switches(), e.tracker.Current())
	return nil
}

// MPICallInit marks the start of an MPI call of the process in the given
// local rank.
func (e *Engine) MPICallInit(rank int, kind mpistats.CallKind, now time.Time) error {
	p, err := e.process(rank)
	if err != nil {
		return err
	}
	p.tracker.CallInit(kind, now)
	return nil
}

// MPICallEnd marks the end of an MPI call of the process in the given
// local rank.
func (e *Engine) MPICallEnd(rank int, kind mpistats.CallKind, now time.Time) error {
	p, err := e.process(rank)
	if err != nil {
		return err
	}
	p.tracker.CallEnd(kind, now)
	return nil
}

func (e *Engine) process(rank int) (*Process, error) {
	if rank < 0 || rank >= len(e.cfg.Processes) {
		return nil, engineError("no process in local rank %d", rank)
	}
	return e.cfg.Processes[rank], nil
}

// LoopBegin starts the state machine of a new loop.
func (e *Engine) LoopBegin(ctx context.Context, now time.Time) error {
	e.updatePowercap(ctx)

	m, actions := states.Begin(states.NewConfig(e.cfg.Node.MaxTries()), now)
	e.machine = m
	e.running = true
	e.lastIter = now
	e.lastPhase = now

	e.Info("loop started, plugin %s, max tries %d", e.cfg.Node.Plugin().Name(), m.Config.MaxTries)

	return e.execute(ctx, actions)
}

// Iteration feeds a new iteration of the loop to the machine.
func (e *Engine) Iteration(ctx context.Context, iteration int, now time.Time) error {
	if !e.running {
		return engineError("iteration %d outside of a loop", iteration)
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.ObserveIteration(now.Sub(e.lastIter), now)
	}
	e.lastIter = now

	var ev states.Event = states.NewIteration{Iteration: iteration, Now: now}

	if err := e.cfg.Node.NewIteration(e.cur); err != nil {
		switch errors.Cause(err) {
		case policy.ErrPhaseChanged, policy.ErrGPUActive:
			e.Debug("iteration %d: %v", iteration, err)
			e.report(func(s report.Sink) error { return s.ReportEvent(report.EventPhaseChanged, float64(iteration)) })
			ev = states.NewIterationFailed{Now: now}
		default:
			e.warn.Warn("iteration %d: %v", iteration, err)
		}
	}

	return e.step(ctx, ev)
}

// Reschedule forces a re-evaluation of the loop.
func (e *Engine) Reschedule(ctx context.Context, now time.Time) error {
	if !e.running {
		return nil
	}
	return e.step(ctx, states.Reschedule{Now: now})
}

// LoopEnd ends the loop after the given number of iterations.
func (e *Engine) LoopEnd(ctx context.Context, iterations int) error {
	if !e.running {
		return nil
	}
	err := e.step(ctx, states.LoopEnd{Iterations: iterations})
	e.running = false
	e.Info("loop ended after %d iterations in state %s", iterations, e.machine.State)
	return err
}

func (e *Engine) step(ctx context.Context, ev states.Event) error {
	m, actions := states.Step(e.machine, ev)
	e.machine = m
	return e.execute(ctx, actions)
}

// execute runs actions in order. The events they produce are fed back to
// the machine and the resulting actions run after the pending ones.
func (e *Engine) execute(ctx context.Context, actions []states.Action) error {
	for len(actions) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		a := actions[0]
		actions = actions[1:]

		ev := e.run(ctx, a)
		if ev != nil {
			m, more := states.Step(e.machine, ev)
			e.machine = m
			actions = append(actions, more...)
		}
	}

	if e.cfg.Collector != nil {
		e.cfg.Collector.ObserveState(e.machine.State)
	}

	return nil
}

// run executes a single action, returning the resulting event if any.
func (e *Engine) run(ctx context.Context, a states.Action) states.Event {
	e.Debug("%s: executing %T", e.machine.State, a)

	switch a := a.(type) {
	case states.LoopInit:
		e.cfg.Node.LoopInit()
		e.last = nil

	case states.BeginSignature:
		if err := e.cfg.Source.BeginSignature(ctx); err != nil {
			e.warn.Warn("failed to begin signature: %v", err)
		}

	case states.ComputeSignature:
		return e.computeSignature(ctx, a.N)

	case states.ApplyNodePolicy:
		d, err := e.cfg.Node.Apply(e.cur)
		if err != nil {
			e.warn.Error("node policy failed: %v", err)
			return states.PolicyApplied{Status: states.PolicyTryAgain}
		}
		changed := e.decide(ctx, d)
		return states.PolicyApplied{Status: policy.PolicyStatus(d.Status), FreqChanged: changed}

	case states.ApplyAppPolicy:
		d, err := e.cfg.Node.ApplyApp(e.cur)
		if err != nil {
			e.warn.Error("application policy failed: %v", err)
			return states.GlobalApplied{}
		}
		if d.Applied {
			e.decide(ctx, d)
		}
		return states.GlobalApplied{Ready: d.Status == policy.Ready}

	case states.CheckPolicy:
		return e.checkPolicy()

	case states.SetDefaultFreq:
		e.actuate(ctx, e.cfg.Node.Default())

	case states.ReportLoop:
		if e.cur != nil {
			sig := e.cur
			e.report(func(s report.Sink) error { return s.ReportLoop(sig, a.Iterations) })
		}

	case states.ReportMaxTries:
		e.Warn("giving up after %d tries, running at default frequency", e.machine.Tries)
		tries := float64(e.machine.Tries)
		e.report(func(s report.Sink) error { return s.ReportEvent(report.EventMaxTries, tries) })

	default:
		e.Warn("unknown action %T", a)
	}

	return nil
}

func (e *Engine) computeSignature(ctx context.Context, n int) states.Event {
	sig, err := e.cfg.Source.ReadSignature(ctx)
	if err != nil {
		if errors.Cause(err) != ErrNotReady {
			e.warn.Warn("failed to read signature of %d iterations: %v", n, err)
		}
		return states.SignatureComputed{Ready: false}
	}

	if minTime := e.machine.Config.MinTime; !accurate(sig.Elapsed, minTime) {
		e.Debug("signature of %d iterations spans %v, less than %v", n, sig.Elapsed, minTime)
		return states.SignatureComputed{Ready: false}
	}

	e.cur = &sig
	e.publish(&sig)
	e.Debug("signature of %d iterations: time %.3fs cpi %.2f gbs %.2f power %.1fW",
		n, sig.Time, sig.CPI, sig.GBS, sig.DCPower)

	return states.SignatureComputed{Ready: true}
}

// publish publishes the signature of every process with its MPI statistics.
func (e *Engine) publish(sig *signature.Signature) {
	src, perProcess := e.cfg.Source.(ProcessSignatureSource)
	for _, p := range e.cfg.Processes {
		psig := sig
		if perProcess {
			if s, ok := src.ProcessSignature(p.Rank()); ok {
				psig = &s
			}
		}
		p.publish(psig)
	}
}

// decide records a node decision and actuates it. It returns true if the
// frequencies in force changed.
func (e *Engine) decide(ctx context.Context, d policy.Decision) bool {
	now := e.machine.Now
	if e.tracker.Update(d.Phase, now.Sub(e.lastPhase)) {
		phase := float64(d.Phase)
		e.report(func(s report.Sink) error { return s.ReportEvent(report.EventPhaseChanged, phase) })
	}
	e.lastPhase = now

	if e.cfg.Collector != nil {
		e.cfg.Collector.ObserveDecision(d)
	}

	if e.cur != nil {
		sig := e.cur.Copy()
		e.last = &sig
	}

	if !d.Applied {
		return false
	}

	avg := float64(d.AvgCPU)
	e.report(func(s report.Sink) error { return s.ReportEvent(report.EventPolicyFreq, avg) })

	return e.actuate(ctx, d)
}

// actuate applies a decision. The frequencies in force are kept if the
// daemon does not confirm it.
func (e *Engine) actuate(ctx context.Context, d policy.Decision) bool {
	if freqsEqual(e.cores, d.Cores) {
		return false
	}

	if a := e.cfg.Actuator; a != nil {
		if err := a.ApplyFrequency(ctx, d.Cores, d.Freqs); err != nil {
			e.warn.Error("failed to apply %s: %v", d, err)
			avg := float64(d.AvgCPU)
			e.report(func(s report.Sink) error { return s.ReportEvent(report.EventActuationFailed, avg) })
			return false
		}
	}

	e.Debug("applied %s, cores %s", d, logger.Delay(func() string { return fmt.Sprint(d.Cores) }))
	e.cores = append(e.cores[:0], d.Cores...)

	return true
}

func (e *Engine) checkPolicy() states.Event {
	ev := states.PolicyChecked{AtDefault: e.cfg.Node.AtDefault()}
	if e.cur == nil {
		ev.OK = true
		return ev
	}

	if e.last != nil {
		ev.Equivalent = classify.Equivalent(e.cur, e.last)
	}

	res, err := e.cfg.Node.OK(e.cur, e.last)
	if err != nil {
		e.warn.Error("policy check failed: %v", err)
		return ev
	}
	ev.OK = res.OK

	if res.Savings != (policy.Savings{}) {
		if e.cfg.Collector != nil {
			e.cfg.Collector.ObserveSavings(res.Savings)
		}
		energy := res.Savings.Energy
		e.report(func(s report.Sink) error { return s.ReportEvent(report.EventEnergySavings, energy) })
	}

	e.Debug("policy check: ok %v, equivalent %v, at default %v, savings %s",
		ev.OK, ev.Equivalent, ev.AtDefault, res.Savings)

	return ev
}

// updatePowercap refreshes the node power limit. The last known limit is
// kept on failure.
func (e *Engine) updatePowercap(ctx context.Context) {
	if e.cfg.Actuator == nil {
		return
	}
	limit, err := e.cfg.Actuator.GetPowercapLimit(ctx)
	if err != nil {
		e.warn.Warn("failed to get powercap limit: %v", err)
		return
	}
	if limit != e.cfg.Context.PowercapLimit {
		e.Info("powercap limit %.1fW", limit)
	}
	e.cfg.Context.PowercapLimit = limit
}

// report runs fn with the sink, if any. Report failures never affect the
// policy.
func (e *Engine) report(fn func(report.Sink) error) {
	if e.cfg.Sink == nil {
		return
	}
	if err := fn(e.cfg.Sink); err != nil {
		e.warn.Warn("report failed: %v", err)
	}
}

// accurate returns true if a measurement window is long enough for an
// accurate signature. Windows within 10% of the minimum time are accepted.
func accurate(elapsed, minTime time.Duration) bool {
	return elapsed >= minTime-minTime/10
}

func freqsEqual(a, b []signature.Freq) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func engineError(format string, args ...interface{}) error {
	return fmt.Errorf("engine: "+format, args...)
}
