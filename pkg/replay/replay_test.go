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

package replay

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/intel/node-energy-policy/pkg/engine"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/policy/builtin/monitoring"
	"github.com/intel/node-energy-policy/pkg/report"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/states"
)

const (
	traceHeader = "loop,iteration,timestamp,time,cpi,gbs,dc_power,avg_cpu_freq\n"
	rankHeader  = "loop,iteration,timestamp,rank,time,cpi,gbs,dc_power,avg_cpu_freq,mpi_calls,mpi_time\n"
)

func TestReadTrace(t *testing.T) {
	tcases := []struct {
		name       string
		input      string
		loops      []int
		iterations [][]int
		fail       bool
	}{
		{
			name:  "empty input",
			input: "",
		},
		{
			name:  "header only",
			input: traceHeader,
		},
		{
			name: "interleaved loops",
			input: traceHeader +
				"7,2,2.0,1.0,0.5,10,300,2400000\n" +
				"3,1,1.5,0.5,0.7,5,250,2400000\n" +
				"7,1,1.0,1.0,0.5,10,300,2400000\n" +
				"3,2,2.0,0.5,0.7,5,250,2400000\n",
			loops:      []int{7, 3},
			iterations: [][]int{{1, 2}, {1, 2}},
		},
		{
			name: "ranks of an iteration",
			input: rankHeader +
				"1,2,2.0,1,1.0,0.9,10,300,2400000,4,0.2\n" +
				"1,1,1.0,1,1.0,0.9,10,300,2400000,4,0.2\n" +
				"1,2,2.0,0,1.0,0.4,10,300,2400000,4,0.1\n" +
				"1,1,1.0,0,1.0,0.4,10,300,2400000,4,0.1\n",
			loops:      []int{1},
			iterations: [][]int{{1, 1, 2, 2}},
		},
		{
			name:  "MPI time above iteration time",
			input: rankHeader + "1,1,1.0,0,1.0,0.4,10,300,2400000,4,1.5\n",
			fail:  true,
		},
		{
			name:  "negative rank",
			input: rankHeader + "1,1,1.0,-1,1.0,0.4,10,300,2400000,4,0.1\n",
			fail:  true,
		},
		{
			name:  "invalid iteration",
			input: traceHeader + "1,0,1.0,1.0,0.5,10,300,2400000\n",
			fail:  true,
		},
		{
			name:  "invalid number",
			input: traceHeader + "1,1,1.0,fast,0.5,10,300,2400000\n",
			fail:  true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			trace, err := ReadTrace(strings.NewReader(tc.input))
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			loops := []int{}
			iterations := [][]int{}
			for _, l := range trace.Loops {
				loops = append(loops, l.ID)
				iters := []int{}
				for _, r := range l.Records {
					iters = append(iters, r.Iteration)
				}
				iterations = append(iterations, iters)
			}
			if tc.loops == nil {
				require.Empty(t, loops)
				return
			}
			require.Equal(t, tc.loops, loops)
			require.Equal(t, tc.iterations, iterations)
		})
	}
}

func TestLoopIterations(t *testing.T) {
	trace, err := ReadTrace(strings.NewReader(rankHeader +
		"1,1,1.0,1,1.0,0.9,10,300,2400000,4,0.2\n" +
		"1,2,2.0,0,1.0,0.4,10,300,2400000,4,0.1\n" +
		"1,1,1.0,0,1.0,0.4,10,300,2400000,4,0.1\n"))
	require.NoError(t, err)
	require.Equal(t, 2, trace.Iterations())

	iterations := trace.Loops[0].Iterations()
	require.Len(t, iterations, 2)
	require.Len(t, iterations[0], 2)
	require.Equal(t, 0, iterations[0][0].Rank)
	require.Equal(t, 1, iterations[0][1].Rank)
	require.Equal(t, 4, iterations[0][1].MPICalls)
	require.Equal(t, 0.2, iterations[0][1].MPITime)
	require.Len(t, iterations[1], 1)
}

func TestAggregate(t *testing.T) {
	sig := Aggregate([]Record{
		{Time: 1.0, CPI: 0.4, GBS: 10, DCPower: 300, AvgCPUFreq: 2400000},
		{Time: 3.0, CPI: 0.6, GBS: 20, DCPower: 200, AvgCPUFreq: 2000000, GPUUtil: 50},
	})

	expected := signature.Signature{
		Time:       2.0,
		CPI:        0.5,
		GBS:        15,
		DCPower:    250,
		AvgCPUFreq: 2200000,
		Elapsed:    4 * time.Second,
		GPUs:       []signature.GPUSignature{{Util: 25}},
	}
	if diff := cmp.Diff(expected, sig); diff != "" {
		t.Errorf("unexpected signature (-want +got):\n%s", diff)
	}
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	s := NewSource()

	_, err := s.ReadSignature(ctx)
	require.Equal(t, engine.ErrNotReady, err)

	s.Push(Record{Iteration: 1, Time: 1, CPI: 1})
	require.NoError(t, s.BeginSignature(ctx))
	_, err = s.ReadSignature(ctx)
	require.Equal(t, engine.ErrNotReady, err)

	s.Push(Record{Iteration: 2, Time: 1, CPI: 0.5})
	sig, err := s.ReadSignature(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.5, sig.CPI)

	_, err = s.ReadSignature(ctx)
	require.Equal(t, engine.ErrNotReady, err)
}

func TestSourceRanks(t *testing.T) {
	ctx := context.Background()
	s := NewSource()

	// no signature without the local rank 0
	s.Push(Record{Iteration: 1, Rank: 1, Time: 1, CPI: 0.9})
	_, err := s.ReadSignature(ctx)
	require.Equal(t, engine.ErrNotReady, err)

	s.Push(Record{Iteration: 1, Time: 1, CPI: 0.4})
	sig, err := s.ReadSignature(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.4, sig.CPI)

	psig, ok := s.ProcessSignature(1)
	require.True(t, ok)
	require.Equal(t, 0.9, psig.CPI)
	_, ok = s.ProcessSignature(2)
	require.False(t, ok)

	// a new window forgets ranks that did not report
	s.Push(Record{Iteration: 2, Time: 1, CPI: 0.5})
	_, err = s.ReadSignature(ctx)
	require.NoError(t, err)
	_, ok = s.ProcessSignature(1)
	require.False(t, ok)
}

func TestPlay(t *testing.T) {
	var input strings.Builder
	input.WriteString(traceHeader)
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&input, "1,%d,%d.0,1.0,0.4,10,300,2400000\n", i, i)
	}
	trace, err := ReadTrace(strings.NewReader(input.String()))
	require.NoError(t, err)
	require.Equal(t, 6, trace.Iterations())

	caps := signature.CPUCaps{
		Pstates: signature.NewPstates(2401000, 2400000, 2200000, 2000000),
		Turbo:   true,
	}
	pctx := policy.NewPolicyContext(caps, signature.IMCCaps{}, 1, 2)
	plugin, err := policy.NewPlugin(monitoring.PluginName, pctx)
	require.NoError(t, err)
	node, err := policy.NewNode(pctx, plugin)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	source := NewSource()
	eng, err := engine.New(engine.Config{
		Node:    node,
		Context: pctx,
		Source:  source,
		Sink:    report.NewCSVSink(buf),
	})
	require.NoError(t, err)

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, NewPlayer(eng, source, start).Play(context.Background(), trace))

	require.Equal(t, states.SignatureStable, eng.State())
	require.Contains(t, buf.String(), "loop")
	require.Contains(t, buf.String(), string(report.EventPolicyFreq))
}

func TestPlayProcesses(t *testing.T) {
	var input strings.Builder
	input.WriteString(rankHeader)
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&input, "1,%d,%d.0,0,1.0,0.4,10,300,2400000,4,0.1\n", i, i)
		fmt.Fprintf(&input, "1,%d,%d.0,1,1.0,0.9,10,300,2400000,4,0.2\n", i, i)
	}
	trace, err := ReadTrace(strings.NewReader(input.String()))
	require.NoError(t, err)
	require.Equal(t, 6, trace.Iterations())

	caps := signature.CPUCaps{
		Pstates: signature.NewPstates(2401000, 2400000, 2200000, 2000000),
		Turbo:   true,
	}
	pctx := policy.NewPolicyContext(caps, signature.IMCCaps{}, 2, 2)
	pctx.MPI = true
	state := shared.NewNodeState(2)
	master, err := state.Master(0)
	require.NoError(t, err)
	pctx.Master = master

	plugin, err := policy.NewPlugin(monitoring.PluginName, pctx)
	require.NoError(t, err)
	node, err := policy.NewNode(pctx, plugin)
	require.NoError(t, err)

	procs := []*engine.Process{}
	for i := 0; i < 2; i++ {
		h, err := state.Process(i)
		require.NoError(t, err)
		procs = append(procs, engine.NewProcess(h, mpistats.GetOptions()))
	}

	source := NewSource()
	eng, err := engine.New(engine.Config{
		Node:      node,
		Context:   pctx,
		Source:    source,
		Processes: procs,
	})
	require.NoError(t, err)

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, NewPlayer(eng, source, start).Play(context.Background(), trace))
	require.Equal(t, states.SignatureStable, eng.State())

	for rank, perc := range []float64{10, 20} {
		info := procs[rank].Tracker().Info()
		require.Equal(t, uint64(24), info.TotalCalls, "rank %d", rank)
		require.InDelta(t, perc, info.PercMPI, 0.5, "rank %d", rank)

		h, err := state.Process(rank)
		require.NoError(t, err)
		require.Equal(t, signature.Freq(2400000), h.Freq(), "rank %d", rank)
	}
}
