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

package shared

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

func TestMasterCapability(t *testing.T) {
	s := NewNodeState(4)

	_, err := s.Master(1)
	require.ErrorIs(t, err, ErrNotMaster)

	m, err := s.Master(0)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = s.Master(0)
	require.ErrorIs(t, err, ErrMasterTaken)

	_, err = s.Process(4)
	require.Error(t, err)
}

func TestReadiness(t *testing.T) {
	s := NewNodeState(3)
	m, err := s.Master(0)
	require.NoError(t, err)

	procs := make([]*ProcessHandle, 3)
	for i := range procs {
		procs[i], err = s.Process(i)
		require.NoError(t, err)
	}

	_, err = m.Snapshot()
	require.ErrorIs(t, err, ErrNotReady)

	for i, p := range procs {
		sig := &signature.Signature{Time: float64(i + 1), CPI: 0.5}
		p.Publish(sig, mpistats.Info{PercMPI: float64(10 * i)}, mpistats.CallTypes{})
		require.True(t, p.Ready())
		require.Equal(t, i+1, m.ReadyCount())
		// publishing again keeps the slot ready
		p.Publish(sig, mpistats.Info{PercMPI: float64(10 * i)}, mpistats.CallTypes{})
		require.True(t, p.Ready())
	}
	require.True(t, m.AllReady())

	infos, err := m.MPIInfos()
	require.NoError(t, err)
	require.Equal(t, []float64{0, 10, 20}, []float64{infos[0].PercMPI, infos[1].PercMPI, infos[2].PercMPI})

	freqs := signature.NodeFreqs{CPU: []signature.Freq{2000000, 1800000, 1600000}}
	m.Publish(&signature.Signature{Time: 1}, freqs)
	require.Equal(t, signature.Freq(1800000), procs[1].Freq())
	d := s.Decision()
	require.Equal(t, uint64(1), d.Sequence)
	require.True(t, d.Freqs.Equal(freqs))

	m.Clean()
	require.False(t, m.AllReady())
	for _, p := range procs {
		require.False(t, p.Ready())
	}
}

func TestAffinityGuard(t *testing.T) {
	s := NewNodeState(2)
	p, err := s.Process(1)
	require.NoError(t, err)
	m, err := s.Master(0)
	require.NoError(t, err)

	masks := []cpuset.CPUSet{cpuset.MustParse("0-3"), cpuset.MustParse("4-7")}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				p.SetAffinity(masks[i%2])
			}
		}
	}()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.WithAffinity(1, func(mask cpuset.CPUSet) {
			if mask.Size() != 0 {
				require.Equal(t, 4, mask.Size())
			}
		})
	}
	close(stop)
	wg.Wait()

	p.SetAffinity(masks[1])
	require.True(t, s.Masks()[1].Equals(masks[1]))
	s.WithAffinity(5, func(mask cpuset.CPUSet) {
		require.Equal(t, 0, mask.Size())
	})
}
