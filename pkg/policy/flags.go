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

package policy

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/config"
	"github.com/intel/node-energy-policy/pkg/freqsel"
	"github.com/intel/node-energy-policy/pkg/mpistats"
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// DefaultPlugin is the name of the plugin activated by default.
	DefaultPlugin = "min-energy"
	// DefaultPenalty is the default maximum time penalty of min-energy.
	DefaultPenalty = 0.1
	// DefaultMinTimeGain is the default minimum performance gain of min-time,
	// relative to the frequency increase.
	DefaultMinTimeGain = 0.7
)

// Options captures our configurable parameters.
type Options struct {
	// Plugin is the name of the policy plugin to activate.
	Plugin string `json:"plugin"`
	// GPUPolicy is the name of the GPU sub-policy.
	GPUPolicy string `json:"gpuPolicy"`
	// Penalty is the maximum time penalty of energy optimizing plugins.
	Penalty float64 `json:"penalty"`
	// MinTimeGain is the minimum performance gain per frequency gain of
	// time optimizing plugins.
	MinTimeGain float64 `json:"minTimeGain"`
	// DefaultFreq is the default CPU frequency, nominal if unset.
	DefaultFreq signature.Freq `json:"defaultFreq,omitempty"`
	// MinFreq is the administrator CPU frequency floor.
	MinFreq signature.Freq `json:"minFreq,omitempty"`
	// Turbo allows energy model searches to select the turbo pstate.
	Turbo bool `json:"turbo,omitempty"`
	// TryTurbo tries turbo for compute bound signatures settled at nominal.
	TryTurbo bool `json:"tryTurbo,omitempty"`
	// TurboForCriticalPath runs compute bound critical processes in turbo.
	TurboForCriticalPath bool `json:"turboForCriticalPath,omitempty"`
	// LoadBalance enables per-process selection for unbalanced nodes.
	LoadBalance bool `json:"loadBalance"`
	// Balance configures the load balance evaluation.
	Balance mpistats.LoadBalanceConfig `json:"balance"`
	// ProximityFactor scales the distance to the median in the critical
	// path selection.
	ProximityFactor float64 `json:"proximityFactor"`
	// Exclusive sets CPUs outside of the job to the lowest selection.
	Exclusive bool `json:"exclusive,omitempty"`
	// IgnoreAffinity broadcasts the selection of the first process.
	IgnoreAffinity bool `json:"ignoreAffinity,omitempty"`
	// UsePhases enables the I/O and busy-waiting phase settings.
	UsePhases bool `json:"usePhases"`
	// EUFS enables uncore frequency selection.
	EUFS bool `json:"eUFS,omitempty"`
	// NetworkUsesIMC keeps the uncore at maximum for MPI bound nodes.
	NetworkUsesIMC bool `json:"networkUsesIMC"`
	// IMCSetByHW leaves the lower uncore bound to the hardware.
	IMCSetByHW bool `json:"imcSetByHW,omitempty"`
	// IMCExtraTh is the tolerated degradation when lowering the uncore.
	IMCExtraTh float64 `json:"imcExtraTh"`
	// IMCDwell is the number of decisions the uncore is held after a raise.
	IMCDwell int `json:"imcDwell"`
	// Powercap enables honoring the node power limit.
	Powercap bool `json:"powercap"`
	// MaxTries overrides the maximum tries of the plugin if positive.
	MaxTries int `json:"maxTries,omitempty"`
	// Thresholds are the classifier thresholds.
	Thresholds classify.Thresholds `json:"thresholds"`
}

// Our runtime configuration.
var opt = defaultOptions().(*Options)

// GetOptions returns a copy of the active policy configuration.
func GetOptions() Options {
	return *opt
}

// Validate checks the configured policy settings.
func (o *Options) Validate() error {
	var errs *multierror.Error

	if o.Plugin != "" {
		if !isRegistered(o.Plugin) {
			errs = multierror.Append(errs, policyError("unknown plugin %q", o.Plugin))
		}
	}
	if o.GPUPolicy != "" {
		if _, err := freqsel.NewGPUPolicy(o.GPUPolicy); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if o.Penalty < 0 || o.Penalty >= 1 {
		errs = multierror.Append(errs, policyError("penalty %v out of range [0, 1)", o.Penalty))
	}
	if o.MinTimeGain < 0 {
		errs = multierror.Append(errs, policyError("negative min-time gain %v", o.MinTimeGain))
	}
	if o.ProximityFactor <= 0 {
		errs = multierror.Append(errs, policyError("invalid proximity factor %v", o.ProximityFactor))
	}
	if o.IMCExtraTh < 0 || o.IMCDwell < 0 {
		errs = multierror.Append(errs, policyError("invalid uncore settings (extra %v, dwell %d)",
			o.IMCExtraTh, o.IMCDwell))
	}
	if err := o.Thresholds.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// AvailablePlugin describes an available plugin.
type AvailablePlugin struct {
	// Name is the name of the plugin.
	Name string
	// Description is a short description of the plugin.
	Description string
}

// AvailablePlugins returns the available plugins and their descriptions.
func AvailablePlugins() []*AvailablePlugin {
	lock.RLock()
	defer lock.RUnlock()

	list := make([]*AvailablePlugin, 0, len(plugins))
	for name, p := range plugins {
		list = append(list, &AvailablePlugin{
			Name:        name,
			Description: p.Description(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	return list
}

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() interface{} {
	return &Options{
		Plugin:          DefaultPlugin,
		GPUPolicy:       freqsel.GPUMonitoring,
		Penalty:         DefaultPenalty,
		MinTimeGain:     DefaultMinTimeGain,
		LoadBalance:     true,
		Balance:         mpistats.DefaultLoadBalanceConfig(),
		ProximityFactor: mpistats.DefaultProximityFactor,
		UsePhases:       true,
		NetworkUsesIMC:  true,
		Powercap:        true,
		IMCExtraTh:      freqsel.DefaultIMCExtraTh,
		IMCDwell:        freqsel.DefaultIMCDwell,
		Thresholds:      classify.DefaultThresholds(),
	}
}

const configHelp = `
Node energy policy.

  policy:
    plugin: min-energy
    gpuPolicy: gpu-monitoring
    penalty: 0.1
    minFreq: 1200000
    loadBalance: true
    eUFS: true
    imcDwell: 2
    powercap: true
    thresholds:
      busyCPI: 0.5
`

// Register us for configuration handling.
func init() {
	config.Register("policy", configHelp, opt, defaultOptions)
}
