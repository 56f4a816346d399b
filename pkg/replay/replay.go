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
	"context"
	"time"

	"github.com/intel/node-energy-policy/pkg/engine"
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/mpistats"
)

var log = logger.NewLogger("replay")

// Player replays a trace through an engine.
type Player struct {
	engine *engine.Engine
	source *Source
	start  time.Time
}

// NewPlayer creates a player driving eng with the signatures of source.
// Trace timestamps are relative to start.
func NewPlayer(eng *engine.Engine, source *Source, start time.Time) *Player {
	return &Player{
		engine: eng,
		source: source,
		start:  start,
	}
}

// callKind is the kind of the MPI calls of replayed iterations.
const callKind = mpistats.Blocking | mpistats.Collective

// Play replays every loop of the trace as a job.
func (p *Player) Play(ctx context.Context, t *Trace) error {
	p.engine.JobBegin(p.start)
	for _, l := range t.Loops {
		if err := p.PlayLoop(ctx, l); err != nil {
			return err
		}
	}
	return p.engine.JobEnd(ctx)
}

// PlayLoop replays a single loop.
func (p *Player) PlayLoop(ctx context.Context, l Loop) error {
	iterations := l.Iterations()
	if len(iterations) == 0 {
		return nil
	}

	first := &iterations[0][0]
	begin := first.At(p.start).Add(-seconds(first.Time))

	log.Debug("replaying loop %d, %d iterations", l.ID, len(iterations))

	if err := p.engine.LoopBegin(ctx, begin); err != nil {
		return err
	}

	for _, records := range iterations {
		for i := range records {
			rec := &records[i]
			p.source.Push(*rec)
			if err := p.replayCalls(rec); err != nil {
				return err
			}
		}
		if err := p.engine.Iteration(ctx, records[0].Iteration, records[0].At(p.start)); err != nil {
			return err
		}
	}

	return p.engine.LoopEnd(ctx, len(iterations))
}

// replayCalls feeds the MPI calls of a record to the engine, spread evenly
// over the iteration with every call ending its share of it.
func (p *Player) replayCalls(rec *Record) error {
	if rec.MPITime <= 0 && rec.MPICalls <= 0 {
		return nil
	}
	if rec.Rank >= p.engine.Processes() {
		log.Debug("no process in local rank %d, ignoring its MPI calls", rec.Rank)
		return nil
	}

	calls := rec.MPICalls
	if calls < 1 {
		calls = 1
	}
	end := rec.At(p.start)
	start := end.Add(-seconds(rec.Time))
	slice := seconds(rec.Time) / time.Duration(calls)
	inMPI := seconds(rec.MPITime) / time.Duration(calls)

	for k := 0; k < calls; k++ {
		callEnd := start.Add(time.Duration(k+1) * slice)
		if err := p.engine.MPICallInit(rec.Rank, callKind, callEnd.Add(-inMPI)); err != nil {
			return err
		}
		if err := p.engine.MPICallEnd(rec.Rank, callKind, callEnd); err != nil {
			return err
		}
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
