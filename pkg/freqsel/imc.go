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

package freqsel

import (
	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// DefaultIMCExtraTh is the default tolerated degradation when lowering
	// the uncore frequency.
	DefaultIMCExtraTh = 0.05
	// DefaultIMCDwell is the default number of decisions the uncore frequency
	// is held after it was raised back.
	DefaultIMCDwell = 2
)

// IMCConfig configures the uncore frequency selection.
type IMCConfig struct {
	// ExtraTh is the tolerated time degradation against the reference.
	ExtraTh float64
	// Dwell is the number of decisions to hold after a raise.
	Dwell int
	// BusyGBS is the bandwidth below which a compute bound node is
	// considered to hardly use memory at all.
	BusyGBS float64
}

// IMCDecision is the outcome of one uncore selection step.
type IMCDecision struct {
	Range IMCRange
	// Ready is set when the uncore selection has converged.
	Ready bool
	// Restart is set when the CPU decision must be redone.
	Restart bool
}

// IMCRange is an alias for the uncore range of the selection vector.
type IMCRange = signature.IMCRange

// IMCSelector selects the uncore frequency of a node after its CPU
// frequency is settled. It lowers the uncore frequency one pstate per
// decision until the degradation against a reference signature exceeds the
// extra threshold, then raises it back by one. After a raise the uncore
// frequency is held for Dwell decisions before it may be lowered again.
type IMCSelector struct {
	caps    signature.IMCCaps
	cfg     IMCConfig
	ref     *signature.Signature
	refIMC  IMCRange
	hold    int
	raises  int
	lowered int
}

// NewIMCSelector creates a selector for the given uncore capabilities.
func NewIMCSelector(caps signature.IMCCaps, cfg IMCConfig) *IMCSelector {
	if cfg.Dwell < 0 {
		cfg.Dwell = 0
	}
	return &IMCSelector{caps: caps, cfg: cfg}
}

// Supported returns true if the uncore frequency can be selected.
func (s *IMCSelector) Supported() bool {
	return s.caps.Supported()
}

// lowestPstate returns the lowest frequency pstate the hardware accepts.
func (s *IMCSelector) lowestPstate() int {
	if s.caps.MaxPstate > 0 {
		return s.caps.Pstates.Clamp(s.caps.MaxPstate)
	}
	return s.caps.Pstates.Lowest()
}

// MaxPerformance returns the uncore range of maximum performance.
func (s *IMCSelector) MaxPerformance() IMCRange {
	return IMCRange{Max: s.caps.MinPstate, Min: s.caps.MinPstate}
}

// Default returns the full uncore range, as configured by the hardware.
func (s *IMCSelector) Default() IMCRange {
	return IMCRange{Max: s.caps.MinPstate, Min: s.lowestPstate()}
}

// Initial returns the uncore range to start from once the CPU frequency is
// selected. A compute bound node running at nominal frequency hardly
// depends on memory and starts low, any other starts at maximum performance.
func (s *IMCSelector) Initial(sig *signature.Signature, atNominal, cpuBound bool) IMCRange {
	r := IMCRange{Max: s.caps.MinPstate}
	if atNominal && cpuBound {
		if sig.GBS <= s.cfg.BusyGBS {
			r.Max = s.lowestPstate() - 1
		} else {
			r.Max = s.caps.Pstates.Len() / 4
		}
	}
	if r.Max < s.caps.MinPstate {
		r.Max = s.caps.MinPstate
	}
	r.Min = s.rangeMin(r.Max)
	return r
}

func (s *IMCSelector) rangeMin(max int) int {
	if s.caps.MaxPstate > 0 {
		return s.caps.MaxPstate
	}
	min := max + 1
	if lowest := s.caps.Pstates.Lowest(); min > lowest {
		min = lowest
	}
	return min
}

// SetReference records the signature measured with the uncore range cur as
// the reference for the following decisions, and returns the range to
// search from.
func (s *IMCSelector) SetReference(sig *signature.Signature, cur IMCRange) IMCRange {
	ref := sig.Copy()
	s.ref = &ref
	s.refIMC = cur
	s.hold = 0
	return IMCRange{Max: cur.Max, Min: s.lowestPstate()}
}

// Reference returns the reference signature and range, if any.
func (s *IMCSelector) Reference() (*signature.Signature, IMCRange) {
	return s.ref, s.refIMC
}

// MustIncrease checks if the signature measured with a lowered uncore
// frequency degraded beyond the extra threshold against the reference.
func (s *IMCSelector) MustIncrease(sig *signature.Signature) bool {
	if s.ref == nil {
		return false
	}
	return classify.AboveMaxPenalty(s.ref, sig, s.cfg.ExtraTh)
}

// Next consumes the signature measured with the uncore range cur and returns
// the next uncore decision.
func (s *IMCSelector) Next(sig *signature.Signature, cur IMCRange) IMCDecision {
	if s.ref == nil {
		return IMCDecision{Range: s.SetReference(sig, cur)}
	}

	if s.MustIncrease(sig) {
		next := cur
		next.Max = cur.Max - 1
		if next.Max < s.caps.MinPstate {
			next.Max = s.caps.MinPstate
		}
		s.hold = s.cfg.Dwell
		s.raises++
		restart := classify.MustStart(s.ref, sig)
		log.Debug("uncore: degradation over %.2f, raising to pstate %d (restart: %v)",
			s.cfg.ExtraTh, next.Max, restart)
		return IMCDecision{Range: next, Ready: !restart, Restart: restart}
	}

	if s.hold > 0 {
		s.hold--
		log.Debug("uncore: holding pstate %d, %d decisions left", cur.Max, s.hold)
		return IMCDecision{Range: cur, Ready: true}
	}

	lowest := s.lowestPstate()
	if cur.Max >= lowest {
		return IMCDecision{Range: cur, Ready: true}
	}
	next := cur
	next.Max = cur.Max + 1
	s.lowered++
	return IMCDecision{Range: next, Ready: next.Max >= lowest}
}

// Holding returns true while the uncore frequency is held after a raise.
func (s *IMCSelector) Holding() bool {
	return s.hold > 0
}

// Stats returns the number of raises and lowerings decided so far.
func (s *IMCSelector) Stats() (raises, lowered int) {
	return s.raises, s.lowered
}

// Reset drops the reference and any hold.
func (s *IMCSelector) Reset() {
	s.ref = nil
	s.refIMC = IMCRange{}
	s.hold = 0
}
