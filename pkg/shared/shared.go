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

// Package shared implements the state shared by the processes of a node.
//
// Every process owns one slot and publishes its signature and MPI
// statistics there through its ProcessHandle. Only the holder of the Master
// capability, obtained once for the local rank 0, reads the slots for node
// level aggregation, publishes the node decision and clears readiness.
// Affinity masks may be changed concurrently by an external agent and are
// only ever accessed under the affinity guard.
package shared

import (
	"errors"
	"fmt"
	"sync"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

var (
	// ErrNotMaster is returned when the master capability is requested by
	// a process other than local rank 0.
	ErrNotMaster = errors.New("shared: only local rank 0 can be master")
	// ErrMasterTaken is returned when the master capability was already handed out.
	ErrMasterTaken = errors.New("shared: master capability already taken")
	// ErrNotReady is returned when not every process published its slot.
	ErrNotReady = errors.New("shared: not all processes are ready")
)

var log = logger.NewLogger("shared")

// Slot is the published state of one process.
type Slot struct {
	Signature signature.Signature
	MPI       mpistats.Info
	Types     mpistats.CallTypes
	Ready     bool
	// Freq is the CPU frequency selected for the process.
	Freq signature.Freq
}

// Decision is the node level decision published by the master.
type Decision struct {
	Freqs     signature.NodeFreqs
	Signature signature.Signature
	Sequence  uint64
}

// NodeState is the state shared by the processes of a node.
type NodeState struct {
	sync.RWMutex
	slots    []Slot
	masks    []cpuset.CPUSet
	affinity sync.Mutex
	decision Decision
	master   bool
}

// NewNodeState creates the shared state of a node running the given
// number of processes.
func NewNodeState(processes int) *NodeState {
	if processes < 1 {
		processes = 1
	}
	return &NodeState{
		slots: make([]Slot, processes),
		masks: make([]cpuset.CPUSet, processes),
	}
}

// Processes returns the number of processes of the node.
func (s *NodeState) Processes() int {
	return len(s.slots)
}

// Process returns the handle of the process in the given local rank.
func (s *NodeState) Process(rank int) (*ProcessHandle, error) {
	if rank < 0 || rank >= len(s.slots) {
		return nil, sharedError("invalid local rank %d for %d processes", rank, len(s.slots))
	}
	return &ProcessHandle{state: s, rank: rank}, nil
}

// Master hands out the master capability to local rank 0. It can be
// obtained only once.
func (s *NodeState) Master(rank int) (*Master, error) {
	if rank != 0 {
		return nil, ErrNotMaster
	}
	s.Lock()
	defer s.Unlock()
	if s.master {
		return nil, ErrMasterTaken
	}
	s.master = true
	return &Master{state: s}, nil
}

// Decision returns the last node decision published by the master.
func (s *NodeState) Decision() Decision {
	s.RLock()
	defer s.RUnlock()
	d := s.decision
	d.Freqs = d.Freqs.Copy()
	d.Signature = d.Signature.Copy()
	return d
}

// WithAffinity runs fn with the affinity mask of process i, holding the
// affinity guard.
func (s *NodeState) WithAffinity(i int, fn func(cpuset.CPUSet)) {
	s.affinity.Lock()
	defer s.affinity.Unlock()
	mask := cpuset.New()
	if i >= 0 && i < len(s.masks) {
		mask = s.masks[i]
	}
	fn(mask)
}

// Masks returns a snapshot of all affinity masks, read under the guard.
func (s *NodeState) Masks() []cpuset.CPUSet {
	s.affinity.Lock()
	defer s.affinity.Unlock()
	return append([]cpuset.CPUSet(nil), s.masks...)
}

// ProcessHandle gives a process write access to its own slot.
type ProcessHandle struct {
	state *NodeState
	rank  int
}

// Rank returns the local rank of the process.
func (p *ProcessHandle) Rank() int {
	return p.rank
}

// Publish stores the signature and MPI statistics of the process and marks
// it ready.
func (p *ProcessHandle) Publish(sig *signature.Signature, info mpistats.Info, types mpistats.CallTypes) {
	p.state.Lock()
	defer p.state.Unlock()
	slot := &p.state.slots[p.rank]
	slot.Signature = sig.Copy()
	slot.MPI = info
	slot.Types = types
	slot.Ready = true
}

// Ready checks if the process slot is published and not yet consumed.
func (p *ProcessHandle) Ready() bool {
	p.state.RLock()
	defer p.state.RUnlock()
	return p.state.slots[p.rank].Ready
}

// Freq returns the frequency the master selected for the process.
func (p *ProcessHandle) Freq() signature.Freq {
	p.state.RLock()
	defer p.state.RUnlock()
	return p.state.slots[p.rank].Freq
}

// SetAffinity updates the affinity mask of the process under the guard.
func (p *ProcessHandle) SetAffinity(mask cpuset.CPUSet) {
	p.state.affinity.Lock()
	defer p.state.affinity.Unlock()
	p.state.masks[p.rank] = mask
}

// Master is the capability of aggregating and publishing node state.
type Master struct {
	state *NodeState
}

// AllReady checks if every process published its slot.
func (m *Master) AllReady() bool {
	m.state.RLock()
	defer m.state.RUnlock()
	for i := range m.state.slots {
		if !m.state.slots[i].Ready {
			return false
		}
	}
	return true
}

// ReadyCount returns the number of processes that published their slot.
func (m *Master) ReadyCount() int {
	m.state.RLock()
	defer m.state.RUnlock()
	n := 0
	for i := range m.state.slots {
		if m.state.slots[i].Ready {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all slots once every process is ready.
func (m *Master) Snapshot() ([]Slot, error) {
	m.state.RLock()
	defer m.state.RUnlock()
	slots := make([]Slot, len(m.state.slots))
	for i := range m.state.slots {
		if !m.state.slots[i].Ready {
			return nil, ErrNotReady
		}
		slots[i] = m.state.slots[i]
		slots[i].Signature = m.state.slots[i].Signature.Copy()
	}
	return slots, nil
}

// MPIInfos returns the MPI statistics of all processes once they are ready.
func (m *Master) MPIInfos() ([]mpistats.Info, error) {
	slots, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	infos := make([]mpistats.Info, len(slots))
	for i := range slots {
		infos[i] = slots[i].MPI
	}
	return infos, nil
}

// Publish publishes the node decision and the per-process frequencies.
func (m *Master) Publish(sig *signature.Signature, freqs signature.NodeFreqs) {
	m.state.Lock()
	defer m.state.Unlock()
	for i := range m.state.slots {
		if i < len(freqs.CPU) {
			m.state.slots[i].Freq = freqs.CPU[i]
		}
	}
	m.state.decision = Decision{
		Freqs:     freqs.Copy(),
		Signature: sig.Copy(),
		Sequence:  m.state.decision.Sequence + 1,
	}
	log.Debug("published decision #%d: %s", m.state.decision.Sequence, freqs)
}

// Clean clears the readiness of every slot once aggregation is done.
func (m *Master) Clean() {
	m.state.Lock()
	defer m.state.Unlock()
	for i := range m.state.slots {
		m.state.slots[i].Ready = false
	}
}

// WithAffinity runs fn with the affinity mask of process i under the guard.
func (m *Master) WithAffinity(i int, fn func(cpuset.CPUSet)) {
	m.state.WithAffinity(i, fn)
}

func sharedError(format string, args ...interface{}) error {
	return fmt.Errorf("shared: "+format, args...)
}
