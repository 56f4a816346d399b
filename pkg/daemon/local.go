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

package daemon

import (
	"context"
	"sync"

	"github.com/intel/node-energy-policy/pkg/gpu"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/sysfs"
)

// Local is a Client executing requests directly on the local node.
type Local struct {
	sync.Mutex
	sys      *sysfs.System
	imc      signature.Pstates
	gpus     gpu.Provider
	powercap float64
}

var _ Client = &Local{}

// NewLocal creates a local client. gpus may be nil on nodes without GPUs.
func NewLocal(sys *sysfs.System, gpus gpu.Provider) *Local {
	return &Local{
		sys:      sys,
		imc:      sys.IMCCaps().Pstates,
		gpus:     gpus,
		powercap: opt.Powercap,
	}
}

// Do executes the request.
func (l *Local) Do(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	l.Lock()
	defer l.Unlock()

	rpl := Response{Kind: req.Kind()}
	var err error

	switch r := req.(type) {
	case SetCPUFreqs:
		err = l.sys.SetCpuFrequencies(r.Freqs)
	case SetIMCRange:
		if l.imc.Len() == 0 {
			err = daemonError("no uncore frequency control")
			break
		}
		err = l.sys.SetUncoreRanges(l.imc, r.Ranges)
	case SetGPUFreqs:
		if l.gpus == nil {
			err = daemonError("no GPUs")
			break
		}
		err = l.gpus.SetFrequencies(r.Freqs)
	case GetPowercap:
		rpl.Powercap, err = l.getPowercap()
	default:
		err = daemonError("unsupported request %s", req.Kind())
	}

	if err != nil {
		rpl.Error = err.Error()
		log.Debug("%s request failed: %v", req.Kind(), err)
		return rpl, nil
	}

	rpl.OK = true
	return rpl, nil
}

func (l *Local) getPowercap() (float64, error) {
	if l.powercap > 0 {
		return l.powercap, nil
	}
	return l.sys.PowercapLimit()
}
