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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// a compute bound signature under the default thresholds
func compSig() signature.Signature {
	return signature.Signature{
		Time:    1.0,
		CPI:     0.4,
		GBS:     10,
		DCPower: 300,
		PercMPI: 0.10,
		Gflops:  50,
		IOMBS:   1,
	}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	for _, tc := range []struct {
		name     string
		modify   func(s *signature.Signature)
		expected Phase
	}{
		{
			name:     "compute bound",
			modify:   func(s *signature.Signature) {},
			expected: CompBound,
		},
		{
			name:     "network bound",
			modify:   func(s *signature.Signature) { s.PercMPI = 0.70 },
			expected: MPIBound,
		},
		{
			name:     "io bound",
			modify:   func(s *signature.Signature) { s.IOMBS = 100 },
			expected: IOBound,
		},
		{
			name: "io wins over network only above the io threshold",
			modify: func(s *signature.Signature) {
				s.PercMPI = 0.70
				s.IOMBS = 100
			},
			expected: IOBound,
		},
		{
			name: "network with io below the threshold",
			modify: func(s *signature.Signature) {
				s.PercMPI = 0.70
				s.IOMBS = 9.9
			},
			expected: MPIBound,
		},
		{
			name: "busy waiting",
			modify: func(s *signature.Signature) {
				s.CPI = 0.3
				s.GBS = 0.5
				s.Gflops = 0.01
			},
			expected: BusyWaiting,
		},
		{
			name: "busy waiting in mpi",
			modify: func(s *signature.Signature) {
				s.CPI = 0.3
				s.GBS = 0.5
				s.Gflops = 0.01
				s.PercMPI = 0.90
			},
			expected: BusyWaiting,
		},
		{
			name: "busy waiting is not checked in io phases",
			modify: func(s *signature.Signature) {
				s.CPI = 0.3
				s.GBS = 0.5
				s.Gflops = 0.01
				s.IOMBS = 100
			},
			expected: IOBound,
		},
		{
			name:     "gpu bound",
			modify:   func(s *signature.Signature) { s.GPUs = []signature.GPUSignature{{Util: 10}, {Util: 90}} },
			expected: CPUGPUMixed,
		},
		{
			name: "gpu bound overrides network",
			modify: func(s *signature.Signature) {
				s.PercMPI = 0.70
				s.GPUs = []signature.GPUSignature{{Util: 90}}
			},
			expected: CPUGPUMixed,
		},
		{
			name: "busy waiting is not gpu bound",
			modify: func(s *signature.Signature) {
				s.CPI = 0.3
				s.GBS = 0.5
				s.Gflops = 0.01
				s.GPUs = []signature.GPUSignature{{Util: 90}}
			},
			expected: BusyWaiting,
		},
		{
			name: "memory bound",
			modify: func(s *signature.Signature) {
				s.CPI = 1.5
				s.GBS = 120
			},
			expected: MemBound,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sig := compSig()
			tc.modify(&sig)
			require.Equal(t, tc.expected, Classify(&sig, 4, th), "phase %s", Classify(&sig, 4, th))
		})
	}
}

func TestBusyWaitingScenario(t *testing.T) {
	th := DefaultThresholds()
	th.BusyCPI = 1.0
	th.BusyGBS = 5
	th.BusyGflops = 1

	sig := signature.Signature{Time: 1, CPI: 0.9, GBS: 2, Gflops: 0.1, DCPower: 200}
	require.Equal(t, BusyWaiting, Classify(&sig, 4, th))
}

func TestClassifyMonotonic(t *testing.T) {
	th := DefaultThresholds()

	// vary the MPI fraction alone, phase flips exactly once
	prev := CompBound
	flips := 0
	for perc := 0.0; perc <= 1.0; perc += 0.05 {
		sig := compSig()
		sig.PercMPI = perc
		p := Classify(&sig, 4, th)
		if p != prev {
			flips++
			require.Equal(t, MPIBound, p)
			require.GreaterOrEqual(t, perc*100, th.NetworkBoundPercMPI-1e-9)
		}
		prev = p
	}
	require.Equal(t, 1, flips)

	// vary the I/O throughput alone
	prev = CompBound
	flips = 0
	for mbs := 0.0; mbs <= 50; mbs += 2.5 {
		sig := compSig()
		sig.IOMBS = mbs
		p := Classify(&sig, 4, th)
		if p != prev {
			flips++
			require.Equal(t, IOBound, p)
		}
		prev = p
	}
	require.Equal(t, 1, flips)

	// vary the GPU utilization alone
	prev = CompBound
	flips = 0
	for util := 0.0; util <= 100; util += 5 {
		sig := compSig()
		sig.GPUs = []signature.GPUSignature{{Util: util}}
		p := Classify(&sig, 4, th)
		if p != prev {
			flips++
			require.Equal(t, CPUGPUMixed, p)
			require.Greater(t, util, th.GPUBoundUtil)
		}
		prev = p
	}
	require.Equal(t, 1, flips)
}

func TestGPUOverride(t *testing.T) {
	th := DefaultThresholds()
	for _, cpi := range []float64{0.2, 0.6, 1.2, 3.0} {
		for _, gbs := range []float64{2, 40, 150} {
			for _, mpi := range []float64{0, 0.5, 0.95} {
				sig := signature.Signature{
					Time: 1, CPI: cpi, GBS: gbs, PercMPI: mpi, Gflops: 10,
					GPUs: []signature.GPUSignature{{Util: 0}, {Util: 99}},
				}
				require.False(t, IsBusyWaiting(&sig, th))
				require.Equal(t, CPUGPUMixed, Classify(&sig, 8, th))
			}
		}
	}
}

func TestBounds(t *testing.T) {
	th := DefaultThresholds()
	sig := compSig()
	require.Equal(t, Flags{CPUBound: true}, Bounds(&sig, th))
	sig.CPI, sig.GBS = 1.2, 80
	require.Equal(t, Flags{MemoryBound: true}, Bounds(&sig, th))
	sig.CPI, sig.GBS = 0.8, 40
	require.Equal(t, Flags{}, Bounds(&sig, th))
}

func TestGPUIdle(t *testing.T) {
	require.False(t, IsGPUIdle(&signature.Signature{}))
	require.True(t, IsGPUIdle(&signature.Signature{GPUs: []signature.GPUSignature{{}, {}}}))
	require.False(t, IsGPUIdle(&signature.Signature{GPUs: []signature.GPUSignature{{}, {Util: 1}}}))
}

func TestThresholdsValidate(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())

	th.BusyCPI = 0
	th.NetworkBoundPercMPI = 120
	err := th.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "busyCPI")
	require.Contains(t, err.Error(), "networkBoundPercMPI")
}

func TestSignaturesDifferent(t *testing.T) {
	th := DefaultThresholds()
	base := compSig()

	for _, tc := range []struct {
		name     string
		modify   func(s *signature.Signature)
		expected bool
	}{
		{
			name:     "identical",
			modify:   func(s *signature.Signature) {},
			expected: false,
		},
		{
			name:     "cpi changed but still cpu bound",
			modify:   func(s *signature.Signature) { s.CPI = 0.55 },
			expected: false,
		},
		{
			name:     "cpi changed and no longer cpu bound",
			modify:   func(s *signature.Signature) { s.CPI = 0.9 },
			expected: true,
		},
		{
			name: "gbs changed into memory bound",
			modify: func(s *signature.Signature) {
				s.CPI = 1.2
				s.GBS = 90
			},
			expected: true,
		},
		{
			name:     "zero cpi is never different",
			modify:   func(s *signature.Signature) { s.CPI = 0 },
			expected: false,
		},
		{
			name: "gpu utilization changed",
			modify: func(s *signature.Signature) {
				s.GPUs = []signature.GPUSignature{{Util: 90}}
			},
			expected: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := base.Copy()
			if tc.name == "gpu utilization changed" {
				a.GPUs = []signature.GPUSignature{{Util: 40}}
			}
			b := base.Copy()
			tc.modify(&b)
			require.Equal(t, tc.expected, SignaturesDifferent(&a, &b, 0.2, th))
		})
	}
}

func TestComparisons(t *testing.T) {
	ref := signature.Signature{Time: 1.0, CPI: 0.5, GBS: 10}

	cur := ref
	cur.CPI, cur.GBS = 0.52, 10.3
	require.True(t, Equivalent(&ref, &cur))
	cur.CPI = 0.6
	require.False(t, Equivalent(&ref, &cur))

	cur = ref
	cur.Time = 1.09
	require.False(t, AboveMaxPenalty(&ref, &cur, 0.1))
	cur.Time = 1.11
	require.True(t, AboveMaxPenalty(&ref, &cur, 0.1))

	noTime := signature.Signature{CPI: 0.5, GBS: 10}
	cur = signature.Signature{CPI: 0.5, GBS: 8}
	require.True(t, AboveMaxPenalty(&noTime, &cur, 0.1))

	cur = ref
	cur.CPI = 0.56
	require.False(t, MustStart(&ref, &cur))
	cur.CPI = 0.7
	require.True(t, MustStart(&ref, &cur))

	cur = ref
	cur.Time = 0.8
	require.False(t, Drifted(&ref, &ref, 0.3))
	require.True(t, Drifted(&ref, &cur, 0.1))

	// 10% more frequency for 8% less time is enough with a 0.7 gain
	cur = ref
	cur.Time = 0.92
	require.False(t, BelowPerfMinBenefit(&ref, &cur, 2000000, 2200000, 0.7))
	cur.Time = 0.98
	require.True(t, BelowPerfMinBenefit(&ref, &cur, 2000000, 2200000, 0.7))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	require.Equal(t, CompBound, tr.Current())

	require.False(t, tr.Update(MPIBound, time.Second), "first update is not a change")
	require.False(t, tr.Update(MPIBound, time.Second))
	require.True(t, tr.Update(BusyWaiting, 2*time.Second))
	require.True(t, tr.Update(CompBound, 0))

	require.Equal(t, 2*time.Second, tr.Elapsed(MPIBound))
	require.Equal(t, 2*time.Second, tr.Elapsed(BusyWaiting))
	require.Equal(t, time.Duration(0), tr.Elapsed(CompBound))
	require.Equal(t, 2, tr.Switches())

	tr.Reset(IOBound)
	require.Equal(t, IOBound, tr.Current())
	require.Equal(t, "io-bound", IOBound.String())
	require.Equal(t, "unknown", Phase(42).String())
}
