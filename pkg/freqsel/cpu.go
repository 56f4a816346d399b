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

// Package freqsel implements the CPU, uncore and GPU frequency selection
// algorithms used by the policy plugins.
package freqsel

import (
	"fmt"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/model"
	"github.com/intel/node-energy-policy/pkg/signature"
)

// ExtraTh scales the additional penalty granted to processes off the
// critical path, per 10% of MPI time above the least waiting process.
const ExtraTh = 0.05

var log = logger.NewLogger("freqsel")

// Projection is a projected (or measured) iteration time and power.
type Projection struct {
	Time  float64
	Power float64
}

// Energy returns the projected energy of one iteration.
func (p Projection) Energy() float64 {
	return p.Time * p.Power
}

// String returns the projection as a string.
func (p Projection) String() string {
	return fmt.Sprintf("time %.4fs power %.1fW", p.Time, p.Power)
}

// ComputeReference returns the time and power of sig, measured at pstate cur,
// as if it ran at the default pstate. The signature itself is used if no
// projection to the default pstate exists.
func ComputeReference(m model.Model, sig *signature.Signature, cur, def int) Projection {
	if cur != def && m != nil && m.Available(cur, def) {
		t, p, err := m.Project(sig, cur, def)
		if err == nil {
			return Projection{Time: t, Power: p}
		}
		log.Debug("reference projection %d->%d failed: %v", cur, def, err)
	}
	return Projection{Time: sig.Time, Power: sig.DCPower}
}

// MinEnergy selects the pstate with the lowest projected energy among
// minPstate..n-1 whose projected time stays below (1+penalty) times the
// reference time. The search starts from the reference pstate def, which is
// returned if no candidate is better.
func MinEnergy(m model.Model, sig *signature.Signature, ref Projection, cur, def, minPstate, n int, penalty float64) (int, Projection) {
	best, bestProj := def, ref
	if m == nil {
		return best, bestProj
	}
	maxTime := ref.Time * (1 + penalty)

	for i := minPstate; i < n; i++ {
		if !m.Available(cur, i) {
			continue
		}
		t, p, err := m.Project(sig, cur, i)
		if err != nil {
			log.Debug("projection %d->%d failed: %v", cur, i, err)
			continue
		}
		proj := Projection{Time: t, Power: p}
		if proj.Energy() < bestProj.Energy() && proj.Time < maxTime {
			best, bestProj = i, proj
		}
	}

	return best, bestProj
}

// MinTime walks from the reference pstate def towards higher performance
// pstates, down to minPstate, accepting each step while the projected
// performance gain is at least gain times the relative frequency increase.
// The result is never a lower frequency than def.
func MinTime(m model.Model, sig *signature.Signature, pstates signature.Pstates, ref Projection, cur, def, minPstate int, gain float64) (int, Projection) {
	best, bestProj := def, ref
	if m == nil || bestProj.Time <= 0 {
		return best, bestProj
	}

	for i := def - 1; i >= minPstate; i-- {
		if !m.Available(cur, i) {
			continue
		}
		t, p, err := m.Project(sig, cur, i)
		if err != nil {
			log.Debug("projection %d->%d failed: %v", cur, i, err)
			break
		}
		bestFreq := float64(pstates.Freq(best))
		freqGain := gain * (float64(pstates.Freq(i)) - bestFreq) / bestFreq
		perfGain := (bestProj.Time - t) / bestProj.Time
		if perfGain < freqGain {
			break
		}
		best, bestProj = i, Projection{Time: t, Power: p}
	}

	return best, bestProj
}

// CriticalPathPstate returns the pstate for a compute bound process on the
// critical path running at avgFreq. With useTurbo it is the turbo pstate,
// otherwise the pstate closest above avgFreq but no faster than nominal.
func CriticalPathPstate(caps signature.CPUCaps, avgFreq signature.Freq, useTurbo bool) int {
	if useTurbo {
		return 0
	}
	pstate := caps.Pstates.Pstate(avgFreq)
	if nominal := caps.Nominal(); pstate < nominal {
		pstate = nominal
	}
	return caps.Pstates.Clamp(pstate)
}

// ProcessPenalty returns the time penalty granted to process i. Memory bound
// processes on the critical path get half the base penalty. Others get an
// extra share growing with how much more time they spend in MPI than the
// least waiting process minIdx.
func ProcessPenalty(base float64, percs []float64, i, minIdx int, critical, memBound bool) float64 {
	if critical && memBound {
		return base / 2
	}
	if i >= len(percs) || minIdx >= len(percs) {
		return base
	}
	return base + ExtraTh*(percs[i]-percs[minIdx])/10
}

// TryBoost moves a critical process selected at the highest allowed pstate to
// the turbo pstate.
func TryBoost(critical bool, pstate, minPstate int) int {
	if critical && pstate == minPstate {
		return 0
	}
	return pstate
}

// ApplyFloor raises every CPU frequency of the vector to the floor and clamps
// it to the hardware maximum. A zero floor or maximum disables that bound.
func ApplyFloor(freqs *signature.NodeFreqs, floor, max signature.Freq) {
	for i, f := range freqs.CPU {
		if floor != 0 && f < floor {
			freqs.CPU[i] = floor
		}
		if max != 0 && freqs.CPU[i] > max {
			freqs.CPU[i] = max
		}
	}
}

// PowercapPstate lowers the selected pstate until the power of sig, measured
// at sigFreq and scaled linearly with frequency, fits under limit. The pstate
// never goes beyond floor. A non-positive limit disables the cap.
func PowercapPstate(pstates signature.Pstates, selected int, sigPower float64, sigFreq signature.Freq, limit float64, floor int) int {
	if limit <= 0 || sigFreq == 0 || sigPower <= 0 {
		return selected
	}
	estimate := func(pstate int) float64 {
		return sigPower * float64(pstates.Freq(pstate)) / float64(sigFreq)
	}
	pstate := selected
	for pstate < floor && estimate(pstate) > limit {
		pstate++
	}
	if pstate != selected {
		log.Debug("powercap %.1fW: pstate %d -> %d (estimated %.1fW)",
			limit, selected, pstate, estimate(pstate))
	}
	return pstates.Clamp(pstate)
}
