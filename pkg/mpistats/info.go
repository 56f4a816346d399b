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

package mpistats

import (
	"fmt"
	"strings"
	"time"
)

// CallKind classifies an MPI call. Kinds are bits and can be combined.
type CallKind uint

const (
	// Blocking is set for calls that block until completion.
	Blocking CallKind = 1 << iota
	// Collective is set for collective operations.
	Collective
	// Synchronization is set for synchronization calls (barriers, waits).
	Synchronization
)

// Other is a non-blocking point-to-point call.
const Other CallKind = 0

// IsBlocking returns true if the blocking bit is set.
func (k CallKind) IsBlocking() bool {
	return k&Blocking != 0
}

// String returns the names of the bits set in the kind.
func (k CallKind) String() string {
	if k == Other {
		return "other"
	}
	names := []string{}
	for _, b := range []struct {
		kind CallKind
		name string
	}{{Blocking, "blocking"}, {Collective, "collective"}, {Synchronization, "synchronization"}} {
		if k&b.kind != 0 {
			names = append(names, b.name)
		}
	}
	return strings.Join(names, "|")
}

// Info is the cumulative MPI statistics of one process.
type Info struct {
	TotalCalls uint64        `json:"total_calls" csv:"total_calls"`
	ExecTime   time.Duration `json:"exec_time" csv:"exec_time"`
	MPITime    time.Duration `json:"mpi_time" csv:"mpi_time"`
	// PercMPI is the percentage, 0 to 100, of time spent in MPI.
	PercMPI float64 `json:"perc_mpi" csv:"perc_mpi"`
}

// UpdatePerc recomputes the percentage of time spent in MPI.
func (i *Info) UpdatePerc() {
	i.PercMPI = percentage(i.MPITime, i.ExecTime)
}

// String returns a short summary of the statistics.
func (i Info) String() string {
	return fmt.Sprintf("calls %d, mpi %v, exec %v, %.2f%% mpi", i.TotalCalls, i.MPITime, i.ExecTime, i.PercMPI)
}

// Diff returns the statistics accumulated between last and current. Counters
// never go backwards, a reset in between yields zeroes instead of negatives.
func Diff(current, last Info) Info {
	d := Info{
		TotalCalls: subCount(current.TotalCalls, last.TotalCalls),
		ExecTime:   subTime(current.ExecTime, last.ExecTime),
		MPITime:    subTime(current.MPITime, last.MPITime),
	}
	d.UpdatePerc()
	return d
}

// CallTypes is the per category breakdown of the MPI calls of a process.
type CallTypes struct {
	Calls      uint64        `json:"calls"`
	TimeMPI    time.Duration `json:"time_mpi"`
	TimePeriod time.Duration `json:"time_period"`

	Sync           uint64        `json:"sync"`
	Collective     uint64        `json:"collective"`
	Blocking       uint64        `json:"blocking"`
	SyncBlock      uint64        `json:"sync_block"`
	TimeSync       time.Duration `json:"time_sync"`
	TimeCollective time.Duration `json:"time_collective"`
	TimeBlocking   time.Duration `json:"time_blocking"`
	TimeSyncBlock  time.Duration `json:"time_sync_block"`
	// MaxSyncBlock is the longest single blocking call seen.
	MaxSyncBlock time.Duration `json:"max_sync_block"`
}

// DiffTypes returns the call breakdown accumulated between last and current.
func DiffTypes(current, last CallTypes) CallTypes {
	d := CallTypes{
		Calls:          subCount(current.Calls, last.Calls),
		TimeMPI:        subTime(current.TimeMPI, last.TimeMPI),
		TimePeriod:     subTime(current.TimePeriod, last.TimePeriod),
		Sync:           subCount(current.Sync, last.Sync),
		Collective:     subCount(current.Collective, last.Collective),
		Blocking:       subCount(current.Blocking, last.Blocking),
		SyncBlock:      subCount(current.SyncBlock, last.SyncBlock),
		TimeSync:       subTime(current.TimeSync, last.TimeSync),
		TimeCollective: subTime(current.TimeCollective, last.TimeCollective),
		TimeBlocking:   subTime(current.TimeBlocking, last.TimeBlocking),
		TimeSyncBlock:  subTime(current.TimeSyncBlock, last.TimeSyncBlock),
		MaxSyncBlock:   current.MaxSyncBlock,
	}
	if last.MaxSyncBlock > d.MaxSyncBlock {
		d.MaxSyncBlock = last.MaxSyncBlock
	}
	return d
}

// CallRate returns the MPI calls per second of the period.
func (t CallTypes) CallRate() float64 {
	if t.TimePeriod <= 0 {
		return 0
	}
	return float64(t.Calls) / t.TimePeriod.Seconds()
}

func percentage(part, total time.Duration) float64 {
	if total <= 0 || part <= 0 {
		return 0
	}
	p := float64(part) * 100.0 / float64(total)
	if p > 100 {
		p = 100
	}
	return p
}

func subCount(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func subTime(a, b time.Duration) time.Duration {
	if a < b {
		return 0
	}
	return a - b
}
