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

package classify

import (
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// AcceptedTh is the tolerance within which two signatures are the same loop.
	AcceptedTh = 0.05
	// MustStartTh is the CPI/GBS degradation that invalidates an IMC decision.
	MustStartTh = 0.15
)

// SignaturesDifferent checks if two signatures differ enough, within the
// relative tolerance th, to call for a new decision. A CPI or GB/s change only
// counts if it also flips the compute or memory boundness of the signature.
// Signatures with zero CPI or GB/s are never considered different.
func SignaturesDifferent(a, b *signature.Signature, th float64, t Thresholds) bool {
	if a.CPI == 0 || b.CPI == 0 || a.GBS == 0 || b.GBS == 0 {
		return false
	}

	if a.GBS > t.BusyGBS || b.GBS > t.BusyGBS {
		if !signature.EqualWithTh(a.CPI, b.CPI, th) {
			if IsCPUBound(a, t) != IsCPUBound(b, t) {
				return true
			}
		}
		if !signature.EqualWithTh(a.GBS, b.GBS, th) {
			if IsMemBound(a, t) != IsMemBound(b, t) {
				return true
			}
		}
	}

	if len(a.GPUs) == len(b.GPUs) {
		for i := range a.GPUs {
			if !signature.EqualWithTh(a.GPUs[i].Util, b.GPUs[i].Util, th) {
				return true
			}
			if !signature.EqualWithTh(a.GPUs[i].MemUtil, b.GPUs[i].MemUtil, th) {
				return true
			}
		}
	}

	return false
}

// Drifted checks if any of CPI, GB/s or iteration time moved beyond the
// relative tolerance th.
func Drifted(ref, cur *signature.Signature, th float64) bool {
	return !signature.EqualWithTh(ref.CPI, cur.CPI, th) ||
		!signature.EqualWithTh(ref.GBS, cur.GBS, th) ||
		!signature.EqualWithTh(ref.Time, cur.Time, th)
}

// Equivalent checks if two signatures are statistically the same loop, with
// CPI and GB/s within AcceptedTh of each other.
func Equivalent(a, b *signature.Signature) bool {
	return signature.EqualWithTh(a.CPI, b.CPI, AcceptedTh) &&
		signature.EqualWithTh(a.GBS, b.GBS, AcceptedTh)
}

// AboveMaxPenalty checks if cur is slower than ref by more than the penalty.
// Without a reference time the check falls back to CPI and GB/s.
func AboveMaxPenalty(ref, cur *signature.Signature, penalty float64) bool {
	if ref.Time > 0 {
		return cur.Time > ref.Time*(1+penalty)
	}
	return cur.GBS < ref.GBS*(1-penalty) || cur.CPI > ref.CPI*(1+penalty)
}

// BelowPerfMinBenefit checks if the performance gained by going from ref to
// cur stays below minGain times the relative frequency increase.
func BelowPerfMinBenefit(ref, cur *signature.Signature, refFreq, curFreq signature.Freq, minGain float64) bool {
	if ref.Time <= 0 || refFreq == 0 {
		return true
	}
	freqGain := (float64(curFreq) - float64(refFreq)) / float64(refFreq)
	perfGain := (ref.Time - cur.Time) / ref.Time
	return perfGain < freqGain*minGain
}

// MustStart checks if the degradation of CPI or GB/s relative to a reference
// is large enough to restart the whole CPU frequency selection.
func MustStart(ref, cur *signature.Signature) bool {
	return relDiff(ref.CPI, cur.CPI) > MustStartTh || relDiff(ref.GBS, cur.GBS) > MustStartTh
}

func relDiff(ref, cur float64) float64 {
	switch {
	case cur > ref && cur != 0:
		return (cur - ref) / cur
	case ref > cur && ref != 0:
		return (ref - cur) / ref
	}
	return 0
}
