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

package states

import (
	"fmt"
	"time"

	"github.com/intel/node-energy-policy/pkg/config"
)

const (
	// configModule is our module name in the runtime configuration.
	configModule = "states"
	// DefaultMinTime is the default minimum signature accuracy time.
	DefaultMinTime = time.Second
)

// Options are the runtime configurable state machine settings.
type Options struct {
	// MinTime is the minimum time a signature must span.
	MinTime config.Duration `json:"minTime"`
	// Tracing keeps the signature period constant once the policy is stable.
	Tracing bool `json:"tracing,omitempty"`
	// Periodic evaluates a signature every period instead of every N loop iterations.
	Periodic bool `json:"periodic,omitempty"`
}

// Our runtime configuration.
var opt = defaultOptions().(*Options)

func defaultOptions() interface{} {
	return &Options{
		MinTime: config.Duration(DefaultMinTime),
	}
}

// Validate checks the configured state machine settings.
func (o *Options) Validate() error {
	if o.MinTime.Duration() <= 0 {
		return fmt.Errorf("states: invalid minimum signature time %v", o.MinTime)
	}
	return nil
}

// NewConfig returns the machine configuration for the active runtime
// configuration and the given maximum number of tries.
func NewConfig(maxTries int) Config {
	return Config{
		MinTime:  opt.MinTime.Duration(),
		MaxTries: maxTries,
		Tracing:  opt.Tracing,
		Periodic: opt.Periodic,
	}
}

const configHelp = `
Policy state machine.

  states:
    minTime: 1s
    tracing: false
    periodic: false
`

func init() {
	config.Register(configModule, configHelp, opt, defaultOptions)
}
