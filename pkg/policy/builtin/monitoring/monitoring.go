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

package monitoring

import (
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/signature"
)

const (
	// PluginName is the name this plugin registers with.
	PluginName = "monitoring"
	// PluginDescription is a short description of this plugin.
	PluginDescription = "A no-op plugin, running at the default frequencies."
)

type monitoring struct {
	logger.Logger
	ctx *policy.PolicyContext
}

var _ policy.Plugin = &monitoring{}

// CreateMonitoringPlugin creates a new plugin instance.
func CreateMonitoringPlugin(ctx *policy.PolicyContext) (policy.Plugin, error) {
	m := &monitoring{Logger: logger.NewLogger(PluginName), ctx: ctx}
	m.Info("creating plugin...")
	return m, nil
}

// Name returns the name of this plugin.
func (m *monitoring) Name() string {
	return PluginName
}

// Description returns the description of this plugin.
func (m *monitoring) Description() string {
	return PluginDescription
}

// Apply keeps the default frequencies.
func (m *monitoring) Apply(sig *signature.Signature, freqs *signature.NodeFreqs) (policy.Status, error) {
	m.Default(freqs)
	return policy.Ready, nil
}

// Default sets the default CPU frequency.
func (m *monitoring) Default(freqs *signature.NodeFreqs) {
	freqs.SetAllCPU(m.ctx.DefaultFreq())
}

// OK always accepts the last selection.
func (m *monitoring) OK(cur, last *signature.Signature) (bool, error) {
	return true, nil
}

// MaxTries returns 1.
func (m *monitoring) MaxTries() int {
	return 1
}

// LoopInit does nothing.
func (m *monitoring) LoopInit() {
	m.Debug("(not) initializing loop...")
}

// NewIteration does nothing.
func (m *monitoring) NewIteration(*signature.Signature) error {
	return nil
}

// IOSettings keeps the default frequencies.
func (m *monitoring) IOSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	m.Default(freqs)
}

// BusyWaitSettings keeps the default frequencies.
func (m *monitoring) BusyWaitSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	m.Default(freqs)
}

// RestoreSettings keeps the default frequencies.
func (m *monitoring) RestoreSettings(sig *signature.Signature, freqs *signature.NodeFreqs) {
	m.Default(freqs)
}

// Monitoring returns true.
func (m *monitoring) Monitoring() bool {
	return true
}

// Implementation is the implementation we register with the policy module.
type Implementation func(*policy.PolicyContext) (policy.Plugin, error)

// Name returns the name of this plugin implementation.
func (i Implementation) Name() string {
	return PluginName
}

// Description returns the description of this plugin implementation.
func (i Implementation) Description() string {
	return PluginDescription
}

// CreateFn returns the function used to instantiate this plugin.
func (i Implementation) CreateFn() policy.CreateFn {
	return policy.CreateFn(i)
}

var _ policy.Implementation = Implementation(nil)

func init() {
	policy.Register(Implementation(CreateMonitoringPlugin))
}
