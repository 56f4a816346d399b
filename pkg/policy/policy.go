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
	"fmt"
	"sync"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
)

var log = logger.NewLogger("policy")

// Status is the readiness of a frequency selection.
type Status int

const (
	// Continue means nothing was decided, the current frequencies stay.
	Continue Status = iota
	// TryAgain means the selection is applied but needs another signature.
	TryAgain
	// Ready means the selection converged.
	Ready
	// GlobalEval means the selection is delegated to the application level.
	GlobalEval
)

var statusNames = map[Status]string{
	Continue:   "continue",
	TryAgain:   "try-again",
	Ready:      "ready",
	GlobalEval: "global-eval",
}

// String returns the status as a string.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status-%d", int(s))
}

// Plugin is the interface of frequency selection strategies.
type Plugin interface {
	// Name returns the well-known name of the plugin.
	Name() string
	// Description returns a verbose description of the plugin.
	Description() string
	// Apply selects the node frequencies for a node signature.
	Apply(sig *signature.Signature, freqs *signature.NodeFreqs) (Status, error)
	// Default sets the default frequencies.
	Default(freqs *signature.NodeFreqs)
	// OK checks if the decision taken for last is still valid for cur.
	OK(cur, last *signature.Signature) (bool, error)
	// MaxTries returns the number of selections the plugin needs at most.
	MaxTries() int
	// LoopInit is called when a new loop or period starts.
	LoopInit()
	// NewIteration is called at every loop iteration.
	NewIteration(sig *signature.Signature) error
	// IOSettings sets the frequencies of an I/O bound phase.
	IOSettings(sig *signature.Signature, freqs *signature.NodeFreqs)
	// BusyWaitSettings sets the frequencies of a busy-waiting phase.
	BusyWaitSettings(sig *signature.Signature, freqs *signature.NodeFreqs)
	// RestoreSettings restores the frequencies after a phase setting.
	RestoreSettings(sig *signature.Signature, freqs *signature.NodeFreqs)
	// Monitoring returns true if the plugin never optimizes anything.
	Monitoring() bool
}

// AppPlugin is implemented by plugins deciding at application level, from
// a signature aggregated over every node of the job.
type AppPlugin interface {
	ApplyApp(sig *signature.Signature, freqs *signature.NodeFreqs) (Status, error)
}

// CreateFn is the type for functions used to create a plugin instance.
type CreateFn func(*PolicyContext) (Plugin, error)

// Implementation attaches metadata to a plugin creation function.
type Implementation interface {
	// Name returns the well-known name of the plugin.
	Name() string
	// Description returns a verbose description of the plugin.
	Description() string
	// CreateFn creates an instance of the plugin.
	CreateFn() CreateFn
}

var (
	lock    sync.RWMutex
	plugins = map[string]Implementation{}
)

// Register registers a plugin implementation.
func Register(p Implementation) error {
	name := p.Name()

	if p.CreateFn() == nil {
		return policyError("plugin '%s' has a nil instantiation function", name)
	}

	lock.Lock()
	defer lock.Unlock()

	log.Info("registering plugin '%s'...", name)

	if _, ok := plugins[name]; ok {
		return policyError("plugin '%s' already registered", name)
	}

	plugins[name] = p

	return nil
}

// NewPlugin creates an instance of the named plugin.
func NewPlugin(name string, ctx *PolicyContext) (Plugin, error) {
	lock.RLock()
	impl, ok := plugins[name]
	lock.RUnlock()

	if !ok {
		return nil, policyError("unknown plugin '%s'", name)
	}

	p, err := impl.CreateFn()(ctx)
	if err != nil {
		return nil, policyError("failed to create plugin '%s': %v", name, err)
	}

	return p, nil
}

// isRegistered checks if the named plugin is registered. Without any
// registered plugin every name is accepted.
func isRegistered(name string) bool {
	lock.RLock()
	defer lock.RUnlock()
	if len(plugins) == 0 {
		return true
	}
	_, ok := plugins[name]
	return ok
}

func policyError(format string, args ...interface{}) error {
	return fmt.Errorf("policy: "+format, args...)
}
