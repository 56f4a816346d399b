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
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/node-energy-policy/pkg/config"
	logger "github.com/intel/node-energy-policy/pkg/log"
)

const (
	// configModule is our module name in the runtime configuration.
	configModule = "mpi"
	// DefaultSampleRate is the call rate (calls/s) above which calls are sampled.
	DefaultSampleRate = 5000
	// DefaultDisableRate is the call rate (calls/s) above which monitoring is disabled.
	DefaultDisableRate = 200000
)

var log = logger.NewLogger("mpi")

// ThrottleConfig configures the MPI call monitoring throttle.
type ThrottleConfig struct {
	// SampleRate is the call rate at which sampling kicks in.
	SampleRate float64 `json:"sampleRate"`
	// DisableRate is the call rate at which monitoring is turned off.
	DisableRate float64 `json:"disableRate"`
	// Period is how often the call rate is re-evaluated.
	Period config.Duration `json:"period"`
	// Window is the number of periods averaged for the call rate.
	Window int `json:"window"`
}

// Options are the runtime configurable MPI statistics settings.
type Options struct {
	// Enabled turns MPI call monitoring on.
	Enabled bool `json:"enabled"`
	// Throttle configures down-sampling under high call rates.
	Throttle ThrottleConfig `json:"throttle"`
}

// Our runtime configuration.
var opt = defaultOptions().(*Options)

func defaultOptions() interface{} {
	return &Options{
		Enabled: true,
		Throttle: ThrottleConfig{
			SampleRate:  DefaultSampleRate,
			DisableRate: DefaultDisableRate,
			Period:      config.Duration(time.Second),
			Window:      4,
		},
	}
}

// Validate checks the configured MPI statistics settings.
func (o *Options) Validate() error {
	var errs *multierror.Error
	t := o.Throttle
	if t.SampleRate < 0 || t.DisableRate < 0 {
		errs = multierror.Append(errs, mpiError("negative throttle rate"))
	}
	if t.DisableRate > 0 && t.SampleRate > t.DisableRate {
		errs = multierror.Append(errs,
			mpiError("sample rate %.0f is above the disable rate %.0f", t.SampleRate, t.DisableRate))
	}
	if t.Period.Duration() <= 0 {
		errs = multierror.Append(errs, mpiError("invalid throttle period %v", t.Period))
	}
	if t.Window < 1 {
		errs = multierror.Append(errs, mpiError("invalid throttle window %d", t.Window))
	}
	return errs.ErrorOrNil()
}

// GetOptions returns a copy of the active configuration.
func GetOptions() Options {
	return *opt
}

func mpiError(format string, args ...interface{}) error {
	return fmt.Errorf("mpi: "+format, args...)
}

const configHelp = `
MPI call statistics and monitoring throttle.

  mpi:
    enabled: true
    throttle:
      sampleRate: 5000
      disableRate: 200000
      period: 1s
      window: 4
`

func init() {
	config.Register(configModule, configHelp, opt, defaultOptions)
}
