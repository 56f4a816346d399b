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
	"fmt"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// Savings are the estimated savings of a decision, in percent.
type Savings struct {
	// Energy is the change in Gflops per W.
	Energy float64
	// Power is the change in DC power.
	Power float64
	// Penalty is the loss of Gflops.
	Penalty float64
}

// String returns the savings as a string.
func (s Savings) String() string {
	return fmt.Sprintf("energy %.2f%%, power %.2f%%, penalty %.2f%%", s.Energy, s.Power, s.Penalty)
}

// ComputeEnergySavings estimates the savings of running cur instead of prev.
// Without floating point work in either signature nothing can be estimated
// and zero savings are returned.
func ComputeEnergySavings(cur, prev *signature.Signature) Savings {
	if cur.Gflops == 0 || prev.Gflops == 0 || cur.DCPower == 0 || prev.DCPower == 0 {
		return Savings{}
	}

	perfPrev := prev.Gflops / prev.DCPower
	perfCur := cur.Gflops / cur.DCPower

	return Savings{
		Energy:  (perfCur - perfPrev) / perfPrev * 100,
		Power:   (prev.DCPower - cur.DCPower) / prev.DCPower * 100,
		Penalty: (prev.Gflops - cur.Gflops) / prev.Gflops * 100,
	}
}
