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
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/signature"
)

// Kind identifies the type of a request.
type Kind string

const (
	// KindSetCPUFreqs sets the frequency of every CPU.
	KindSetCPUFreqs Kind = "set-cpu-freqs"
	// KindSetIMCRange sets the uncore frequency range of every socket.
	KindSetIMCRange Kind = "set-imc-range"
	// KindSetGPUFreqs sets the frequency of every GPU.
	KindSetGPUFreqs Kind = "set-gpu-freqs"
	// KindGetPowercap queries the node power limit.
	KindGetPowercap Kind = "get-powercap"
)

// Request is a request to the node daemon.
type Request interface {
	// Kind returns the kind of the request.
	Kind() Kind
	isRequest()
}

// SetCPUFreqs requests per-CPU frequencies. Zero frequencies are skipped.
type SetCPUFreqs struct {
	Freqs []signature.Freq `json:"freqs"`
}

// SetIMCRange requests per-socket uncore ranges, as uncore pstates.
type SetIMCRange struct {
	Ranges []signature.IMCRange `json:"ranges"`
}

// SetGPUFreqs requests per-device GPU frequencies. Zero frequencies are skipped.
type SetGPUFreqs struct {
	Freqs []signature.Freq `json:"freqs"`
}

// GetPowercap requests the node power limit.
type GetPowercap struct{}

// Kind implements Request.
func (SetCPUFreqs) Kind() Kind { return KindSetCPUFreqs }

// Kind implements Request.
func (SetIMCRange) Kind() Kind { return KindSetIMCRange }

// Kind implements Request.
func (SetGPUFreqs) Kind() Kind { return KindSetGPUFreqs }

// Kind implements Request.
func (GetPowercap) Kind() Kind { return KindGetPowercap }

func (SetCPUFreqs) isRequest() {}
func (SetIMCRange) isRequest() {}
func (SetGPUFreqs) isRequest() {}
func (GetPowercap) isRequest() {}

// Response is the reply of the daemon to a request.
type Response struct {
	Kind Kind `json:"kind"`
	// OK is set if the daemon confirmed the request.
	OK bool `json:"ok"`
	// Powercap is the node power limit in W, zero if unlimited.
	Powercap float64 `json:"powercap,omitempty"`
	// Error describes why the request was not confirmed.
	Error string `json:"error,omitempty"`
}

type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes a request with its kind.
func Marshal(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s request", req.Kind())
	}
	return json.Marshal(envelope{Kind: req.Kind(), Payload: payload})
}

// Unmarshal decodes a request encoded with Marshal.
func Unmarshal(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal request")
	}

	var req Request
	switch env.Kind {
	case KindSetCPUFreqs:
		req = &SetCPUFreqs{}
	case KindSetIMCRange:
		req = &SetIMCRange{}
	case KindSetGPUFreqs:
		req = &SetGPUFreqs{}
	case KindGetPowercap:
		return GetPowercap{}, nil
	default:
		return nil, daemonError("unknown request kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, req); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s request", env.Kind)
	}

	switch r := req.(type) {
	case *SetCPUFreqs:
		return *r, nil
	case *SetIMCRange:
		return *r, nil
	case *SetGPUFreqs:
		return *r, nil
	}

	return req, nil
}
