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

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/node-energy-policy/pkg/affinity"
	"github.com/intel/node-energy-policy/pkg/daemon"
	"github.com/intel/node-energy-policy/pkg/engine"
	"github.com/intel/node-energy-policy/pkg/gpu"
	"github.com/intel/node-energy-policy/pkg/model"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/nodemap"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/shared"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/sysfs"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

const (
	// lowest frequency of the simulated node (kHz)
	simulatedMinFreq = 1000000
	// pstate step of the simulated node (kHz)
	simulatedStep = 100000
)

// node is the node the replay runs on.
type node struct {
	ctx       *policy.PolicyContext
	actuator  engine.Actuator
	processes []*engine.Process
	gpus      gpu.Provider
}

// newNode sets up the node, discovered from sysfs or simulated, with the
// shared state of the processes of the job.
func newNode() (*node, error) {
	n := &node{}

	if opt.sysfs == "" {
		n.ctx = simulatedContext()
	} else {
		sys, err := sysfs.DiscoverSystemAt(opt.sysfs)
		if err != nil {
			return nil, err
		}
		caps, err := sys.CPUCaps()
		if err != nil {
			return nil, err
		}

		n.ctx = policy.NewPolicyContext(caps, sys.IMCCaps(), opt.processes, sys.CpuCount())
		n.ctx.Sockets = sys.SocketCPUSets()
		n.ctx.SocketUniform = nodemap.SocketUniformFor(opt.procfs)

		if opt.gpus {
			provider, err := gpu.NewNVML()
			if err != nil {
				log.Warn("GPUs not available, continuing without: %v", err)
			} else {
				n.gpus = setupGPUs(n.ctx, provider)
			}
		}

		client := daemon.NewRetrying(daemon.NewLocal(sys, n.gpus), daemon.GetOptions())
		n.actuator = daemon.NewActuator(client)
	}

	if err := n.setupProcesses(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// setupGPUs sets the GPU capabilities of the context from provider. The
// provider is closed and nil returned if its capabilities are unknown.
func setupGPUs(ctx *policy.PolicyContext, provider gpu.Provider) gpu.Provider {
	if provider.Devices() == 0 {
		provider.Close()
		return nil
	}
	caps, defaults, err := provider.Caps()
	if err != nil {
		log.Warn("failed to get GPU capabilities, continuing without GPUs: %v", err)
		provider.Close()
		return nil
	}
	ctx.GPU = caps
	ctx.GPUDefaults = defaults
	log.Info("using %d GPU(s)", caps.Devices())
	return provider
}

// setupProcesses creates the shared node state of the processes of the job
// and hands the master capability to the policy.
func (n *node) setupProcesses() error {
	mpi := mpistats.GetOptions()
	state := shared.NewNodeState(n.ctx.Processes)
	master, err := state.Master(0)
	if err != nil {
		return err
	}

	n.ctx.Master = master
	n.ctx.MPI = mpi.Enabled && n.ctx.Processes > 1
	n.ctx.Block = mpistats.BlockingType()

	pids, err := parsePids(opt.pids)
	if err != nil {
		return err
	}

	for rank := 0; rank < n.ctx.Processes; rank++ {
		h, err := state.Process(rank)
		if err != nil {
			return err
		}
		if rank < len(pids) {
			mask, err := affinity.Get(pids[rank])
			if err != nil {
				log.Warn("process %d running on any CPU: %v", rank, err)
			} else {
				h.SetAffinity(mask)
			}
		}
		n.processes = append(n.processes, engine.NewProcess(h, mpi))
	}

	return nil
}

// parsePids parses a comma-separated list of process IDs.
func parsePids(list string) ([]int, error) {
	if list == "" {
		return nil, nil
	}
	var (
		pids []int
		errs *multierror.Error
	)
	for _, field := range strings.Split(list, ",") {
		pid, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || pid < 0 {
			errs = multierror.Append(errs, fmt.Errorf("invalid pid %q", field))
			continue
		}
		pids = append(pids, pid)
	}
	return pids, errs.ErrorOrNil()
}

// Close releases the resources of the node.
func (n *node) Close() {
	if n.gpus != nil {
		if err := n.gpus.Close(); err != nil {
			log.Warn("%v", err)
		}
	}
}

func simulatedContext() *policy.PolicyContext {
	freqs := []signature.Freq{signature.Freq(opt.nominal + 1000)}
	for f := opt.nominal; f >= simulatedMinFreq; f -= simulatedStep {
		freqs = append(freqs, signature.Freq(f))
	}
	caps := signature.CPUCaps{Pstates: signature.NewPstates(freqs...), Turbo: true}

	ctx := policy.NewPolicyContext(caps, signature.IMCCaps{}, opt.processes, opt.cpus)
	ctx.Sockets = []cpuset.CPUSet{cpuset.Range(opt.cpus)}

	return ctx
}

// loadModel sets up the energy model of the context, if one is available.
func loadModel(ctx *policy.PolicyContext) error {
	if opt.arch == "" {
		return nil
	}
	m, err := model.Load(opt.arch)
	if err != nil {
		return err
	}
	if m != nil {
		ctx.Model = m
	}
	return nil
}
