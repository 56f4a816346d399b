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

// Step is the outcome of one model-free search step.
type Step struct {
	// Pstate is the pstate to run the next window at.
	Pstate int
	// Ready is set once the search has converged.
	Ready bool
}

// LinearSearch is the model-free CPU frequency search. Starting at the
// default pstate, it moves one pstate down per measured window while the
// energy keeps improving and the time penalty relative to the default pstate
// stays within bounds, then settles on the last pstate that did not violate
// either condition.
type LinearSearch struct {
	def     int
	lowest  int
	penalty float64
	ref     *signature.Signature
	last    *signature.Signature
	tried   []int
}

// NewLinearSearch creates a search from pstate def down to at most pstate
// lowest, with the given time penalty.
func NewLinearSearch(def, lowest int, penalty float64) *LinearSearch {
	if lowest < def {
		lowest = def
	}
	return &LinearSearch{
		def:     def,
		lowest:  lowest,
		penalty: penalty,
	}
}

// Reset restarts the search from the default pstate.
func (s *LinearSearch) Reset() {
	s.ref = nil
	s.last = nil
	s.tried = nil
}

// Tried returns the pstates measured since the last reset, in order.
func (s *LinearSearch) Tried() []int {
	return append([]int(nil), s.tried...)
}

// Reference returns the signature measured at the default pstate, if any.
func (s *LinearSearch) Reference() *signature.Signature {
	return s.ref
}

// Next consumes the signature sig measured at pstate cur and returns the
// pstate to try next.
func (s *LinearSearch) Next(cur int, sig *signature.Signature) Step {
	if cur < s.def || (s.ref == nil && cur != s.def) {
		s.Reset()
		return Step{Pstate: s.def}
	}

	measured := sig.Copy()
	s.tried = append(s.tried, cur)

	if cur == s.def {
		s.ref = &measured
		s.last = &measured
		return s.goNext(cur)
	}

	if s.isBetter(&measured) {
		s.last = &measured
		return s.goNext(cur)
	}

	log.Debug("model-free search: pstate %d worse than %d, backing off", cur, cur-1)
	return Step{Pstate: cur - 1, Ready: true}
}

func (s *LinearSearch) goNext(cur int) Step {
	if cur+1 > s.lowest {
		return Step{Pstate: cur, Ready: true}
	}
	return Step{Pstate: cur + 1}
}

// isBetter checks if sig, measured one pstate below the last accepted one,
// uses no more energy and stays within the time penalty.
func (s *LinearSearch) isBetter(sig *signature.Signature) bool {
	if sig.Energy() > s.last.Energy() {
		return false
	}
	return !classify.AboveMaxPenalty(s.ref, sig, s.penalty)
}
