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
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/node-energy-policy/pkg/config"
)

const (
	// DefaultMaxRetries is the default number of retries of a request.
	DefaultMaxRetries = 3
	// DefaultRate is the default number of requests per second.
	DefaultRate = 50
)

// Options captures our configurable parameters.
type Options struct {
	// MaxRetries is the number of times a request is retried.
	MaxRetries int `json:"maxRetries"`
	// Rate limits the number of requests per second.
	Rate float64 `json:"rate"`
	// Burst is the number of requests allowed in a burst.
	Burst int `json:"burst"`
	// Timeout bounds a single request.
	Timeout config.Duration `json:"timeout"`
	// Powercap is a static node power limit in W, overriding RAPL.
	Powercap float64 `json:"powercap,omitempty"`
	// SysfsRoot is the root of the sysfs tree used by the local daemon.
	SysfsRoot string `json:"sysfsRoot"`
}

// Our runtime configuration.
var opt = defaultOptions().(*Options)

// GetOptions returns a copy of the active daemon configuration.
func GetOptions() Options {
	return *opt
}

// Validate checks the configured daemon settings.
func (o *Options) Validate() error {
	var errs *multierror.Error
	if o.MaxRetries < 0 {
		errs = multierror.Append(errs, daemonError("negative retry count %d", o.MaxRetries))
	}
	if o.Rate <= 0 || o.Burst < 1 {
		errs = multierror.Append(errs, daemonError("invalid rate limit %.1f/s, burst %d", o.Rate, o.Burst))
	}
	if o.Timeout.Duration() <= 0 {
		errs = multierror.Append(errs, daemonError("invalid request timeout %v", o.Timeout))
	}
	if o.Powercap < 0 {
		errs = multierror.Append(errs, daemonError("negative powercap %.1f", o.Powercap))
	}
	return errs.ErrorOrNil()
}

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() interface{} {
	return &Options{
		MaxRetries: DefaultMaxRetries,
		Rate:       DefaultRate,
		Burst:      1,
		Timeout:    config.Duration(time.Second),
		SysfsRoot:  "/sys",
	}
}

const configHelp = `
Node daemon connection.

  daemon:
    maxRetries: 3
    rate: 50
    burst: 1
    timeout: 1s
    powercap: 0
`

func init() {
	config.Register("daemon", configHelp, opt, defaultOptions)
}
