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

package report

import (
	"time"

	"github.com/intel/node-energy-policy/pkg/config"
)

// Options captures our configurable parameters.
type Options struct {
	// Log enables reporting to the log.
	Log bool `json:"log"`
	// CSV is the path of a CSV report file, if any.
	CSV string `json:"csv,omitempty"`
	// ErrorInterval is the minimum interval between repeated sink failure messages.
	ErrorInterval config.Duration `json:"errorInterval"`
}

// Our runtime configuration.
var opt = defaultOptions().(*Options)

// Validate checks the configured report settings.
func (o *Options) Validate() error {
	if o.ErrorInterval.Duration() <= 0 {
		return reportError("invalid error interval %v", o.ErrorInterval)
	}
	return nil
}

// NewSinks creates the sinks of the active configuration.
func NewSinks() (*Multi, error) {
	m := NewMulti()
	if opt.Log {
		m.Add(NewLogSink(log))
	}
	if opt.CSV != "" {
		s, err := OpenCSVSink(opt.CSV)
		if err != nil {
			return nil, err
		}
		m.Add(s)
	}
	return m, nil
}

func defaultOptions() interface{} {
	return &Options{
		Log:           true,
		ErrorInterval: config.Duration(10 * time.Second),
	}
}

const configHelp = `
Loop and event reporting.

  report:
    log: true
    csv: /var/log/energy-policy.csv
    errorInterval: 10s
`

func init() {
	config.Register("report", configHelp, opt, defaultOptions)
}
