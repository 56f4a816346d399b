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

// Package model implements per-architecture energy models projecting the
// time and power of a signature from one CPU pstate to another.
package model

import (
	"errors"
	"fmt"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// ErrNoModel is returned when a projection is requested that the model lacks.
var ErrNoModel = errors.New("model: no projection available")

// Model projects signatures between pstates.
type Model interface {
	// Available checks if a projection from one pstate to another exists.
	Available(from, to int) bool
	// Project projects the iteration time and power of sig, measured at
	// pstate from, to pstate to.
	Project(sig *signature.Signature, from, to int) (time, power float64, err error)
}

// Coefficients are the linear projection coefficients of a pstate pair.
// Power is projected as A*power + B*GBS + C, time as
// time * (D*CPI + E*GBS + F) / CPI.
type Coefficients struct {
	From int     `json:"from"`
	To   int     `json:"to"`
	A    float64 `json:"a"`
	B    float64 `json:"b"`
	C    float64 `json:"c"`
	D    float64 `json:"d"`
	E    float64 `json:"e"`
	F    float64 `json:"f"`
}

// Linear is a model with linear coefficients per pstate pair.
type Linear struct {
	Architecture string         `json:"architecture"`
	Pstates      int            `json:"pstates"`
	Coefficients []Coefficients `json:"coefficients"`

	index map[[2]int]*Coefficients
}

// NewLinear creates a linear model from the given coefficients.
func NewLinear(arch string, pstates int, coeffs []Coefficients) (*Linear, error) {
	m := &Linear{
		Architecture: arch,
		Pstates:      pstates,
		Coefficients: coeffs,
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Linear) build() error {
	m.index = make(map[[2]int]*Coefficients, len(m.Coefficients))
	for i := range m.Coefficients {
		c := &m.Coefficients[i]
		if c.From < 0 || c.To < 0 || (m.Pstates > 0 && (c.From >= m.Pstates || c.To >= m.Pstates)) {
			return modelError("coefficients %d->%d out of range for %d pstates", c.From, c.To, m.Pstates)
		}
		key := [2]int{c.From, c.To}
		if _, ok := m.index[key]; ok {
			return modelError("duplicate coefficients for %d->%d", c.From, c.To)
		}
		m.index[key] = c
	}
	return nil
}

// Available implements Model.
func (m *Linear) Available(from, to int) bool {
	if from == to {
		return true
	}
	c, ok := m.index[[2]int{from, to}]
	return ok && (c.A != 0 || c.B != 0 || c.C != 0) && (c.D != 0 || c.E != 0 || c.F != 0)
}

// Project implements Model.
func (m *Linear) Project(sig *signature.Signature, from, to int) (float64, float64, error) {
	if from == to {
		return sig.Time, sig.DCPower, nil
	}
	if !m.Available(from, to) {
		return 0, 0, fmt.Errorf("%w: %d->%d", ErrNoModel, from, to)
	}
	if sig.CPI <= 0 {
		return 0, 0, modelError("can't project signature with CPI %v", sig.CPI)
	}
	c := m.index[[2]int{from, to}]
	power := c.A*sig.DCPower + c.B*sig.GBS + c.C
	time := sig.Time * (c.D*sig.CPI + c.E*sig.GBS + c.F) / sig.CPI
	return time, power, nil
}

func modelError(format string, args ...interface{}) error {
	return fmt.Errorf("model: "+format, args...)
}
