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

package signature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPstates(t *testing.T) {
	p := NewPstates(1200000, 2400000, 1800000, 2400000, 0, 2401000)
	require.Equal(t, Pstates{2401000, 2400000, 1800000, 1200000}, p)

	for _, tc := range []struct {
		name     string
		freq     Freq
		expected int
	}{
		{name: "exact turbo", freq: 2401000, expected: 0},
		{name: "exact nominal", freq: 2400000, expected: 1},
		{name: "exact lowest", freq: 1200000, expected: 3},
		{name: "in between maps up", freq: 2000000, expected: 1},
		{name: "above range", freq: 3000000, expected: 0},
		{name: "below range", freq: 800000, expected: 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, p.Pstate(tc.freq))
		})
	}

	require.Equal(t, Freq(2401000), p.Freq(-1))
	require.Equal(t, Freq(1200000), p.Freq(17))
	require.Equal(t, 3, p.Lowest())

	caps := CPUCaps{Pstates: p, Turbo: true}
	require.Equal(t, 1, caps.Nominal())
	require.Equal(t, Freq(2400000), caps.NominalFreq())
	caps.Turbo = false
	require.Equal(t, 0, caps.Nominal())
}

func TestNodeFreqs(t *testing.T) {
	n := NewNodeFreqs(4, 2, 1)
	n.CPU[0], n.CPU[1], n.CPU[2], n.CPU[3] = 2000000, 1000000, 1500000, 1500000
	n.GPU[0] = 1410000

	require.Equal(t, Freq(2000000), n.MaxCPU())
	require.Equal(t, Freq(1000000), n.MinCPU())
	require.Equal(t, Freq(1500000), n.AvgCPU(0))
	require.Equal(t, Freq(1500000), n.AvgCPU(2))
	require.Equal(t, Freq(1410000), n.AvgGPU())

	c := n.Copy()
	require.True(t, c.Equal(n))
	c.CPU[0] = 1
	require.False(t, c.Equal(n), "copy must not share storage")

	n.SetAllIMC(IMCRange{Max: 0, Min: 3})
	require.Equal(t, []IMCRange{{0, 3}, {0, 3}}, n.IMC)
	require.Contains(t, n.String(), "imc[0-3 0-3]")
}

func TestSignature(t *testing.T) {
	s := Signature{Time: 2, DCPower: 300, CPI: 0.5, GBS: 10, GPUs: []GPUSignature{{Util: 30}, {Util: 50}}}
	require.Equal(t, 600.0, s.Energy())
	require.Equal(t, 80.0, s.GPUUtil())
	require.True(t, s.Valid())

	c := s.Copy()
	c.GPUs[0].Util = 0
	require.Equal(t, 30.0, s.GPUs[0].Util)

	s.CPI = math.NaN()
	require.False(t, s.Valid())
	require.False(t, (&Signature{}).Valid())
}

func TestEqualWithTh(t *testing.T) {
	require.True(t, EqualWithTh(100, 104, 0.05))
	require.True(t, EqualWithTh(100, 96, 0.05))
	require.False(t, EqualWithTh(100, 106, 0.05))
	require.True(t, EqualWithTh(0, 0, 0.05))
	require.False(t, EqualWithTh(0, 1, 0.05))
}
