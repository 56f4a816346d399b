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
	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// SignatureTh is the tolerated relative CPI and GB/s change of a
	// decision taken with an energy model.
	SignatureTh = 0.2
	// ModelFreeSignatureTh is the tolerated relative CPI, GB/s and time
	// change of a decision taken without a model.
	ModelFreeSignatureTh = 0.3
)

// Balance tracks the load balance of the processes of a node between
// decisions.
type Balance struct {
	cfg        mpistats.LoadBalanceConfig
	factor     float64
	unbalanced bool
	first      bool
	lb         mpistats.LoadBalance
	cp         mpistats.CriticalPath
	lastMag    float64
	lastCP     []bool
}

// NewBalance creates a load balance tracker.
func NewBalance(cfg mpistats.LoadBalanceConfig, factor float64) *Balance {
	return &Balance{
		cfg:    cfg,
		factor: factor,
		first:  true,
	}
}

// Check evaluates the load balance of the node. It returns false if the
// node switched between balanced and unbalanced or, while unbalanced, its
// MPI profile changed.
func (b *Balance) Check(infos []mpistats.Info) bool {
	lb, err := mpistats.EvaluateLoadBalance(infos, b.cfg)
	if err != nil {
		log.Debug("no load balance evaluation: %v", err)
		b.lb = mpistats.LoadBalance{}
		b.cp = mpistats.CriticalPath{}
		return true
	}

	ok := true
	if lb.Unbalanced != b.unbalanced {
		log.Debug("node became %s", map[bool]string{true: "unbalanced", false: "balanced"}[lb.Unbalanced])
		b.unbalanced = lb.Unbalanced
		ok = false
	}
	b.lb = lb

	if !lb.Unbalanced {
		b.cp = mpistats.CriticalPath{}
		return ok
	}

	cp := mpistats.SelectCriticalPath(lb.Percentages, lb.Mean, b.factor)
	if !b.first && ok {
		changed, sim := mpistats.MPIProfileChanged(lb.Magnitude, b.lastMag, cp.Set, b.lastCP)
		if changed {
			log.Debug("MPI profile changed (magnitude %.2f -> %.2f, similarity %.2f)",
				b.lastMag, lb.Magnitude, sim)
			ok = false
		}
	} else if ok {
		b.first = false
	}

	b.cp = cp
	b.lastMag = lb.Magnitude
	b.lastCP = append(b.lastCP[:0], cp.Set...)

	return ok
}

// Reset clears the load balance snapshot, the next check starts from a
// clean baseline.
func (b *Balance) Reset() {
	b.first = true
	b.lastMag = 0
	b.lastCP = b.lastCP[:0]
}

// Unbalanced returns true if the node was unbalanced at the last check.
func (b *Balance) Unbalanced() bool {
	return b.unbalanced && len(b.cp.Set) > 0
}

// LoadBalance returns the last load balance evaluation.
func (b *Balance) LoadBalance() mpistats.LoadBalance {
	return b.lb
}

// CriticalPath returns the critical path of the last unbalanced check.
func (b *Balance) CriticalPath() mpistats.CriticalPath {
	return b.cp
}

// Critical returns true if process i is on the critical path.
func (b *Balance) Critical(i int) bool {
	return b.Unbalanced() && i < len(b.cp.Set) && b.cp.Set[i]
}

// DecisionOK checks if the decision taken for last still holds for cur.
// With MPI statistics, load balancing and an energy model, the load balance
// of the node is checked first. The signatures are compared afterwards.
// Any negative outcome resets the load balance snapshot.
func DecisionOK(ctx *PolicyContext, b *Balance, cur, last *signature.Signature) bool {
	ok := true

	if b != nil && ctx.Options.LoadBalance && ctx.ModelBased() {
		if infos, found := ctx.MPIInfos(); found {
			ok = b.Check(infos)
		}
	}

	if ok && last != nil {
		if ctx.ModelBased() {
			ok = !classify.SignaturesDifferent(last, cur, SignatureTh, ctx.Thresholds())
		} else {
			ok = !classify.Drifted(last, cur, ModelFreeSignatureTh)
		}
	}

	if !ok && b != nil {
		b.Reset()
	}

	return ok
}
