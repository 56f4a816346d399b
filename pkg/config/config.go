// Copyright 2019-2022 Intel Corporation. All Rights Reserved.
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

package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Source describes where configuration data has been acquired from.
type Source string

const (
	// ConfigFile is a YAML/JSON file configuration source.
	ConfigFile Source = "configuration file"
	// External is an external configuration source.
	External Source = "external configuration"
	// Defaults is the built-in default configuration.
	Defaults Source = "default configuration"
)

// Event describes the reason why a notification callback has been invoked.
type Event string

const (
	// UpdateEvent is the event type for a configuration update.
	UpdateEvent Event = "updated"
	// RevertEvent is the event type for a configuration rollback.
	RevertEvent Event = "reverted"
)

// NotifyFn is the type of a configuration change notification function.
type NotifyFn func(Event, Source) error

// Validator is implemented by configuration fragments that can check themselves.
type Validator interface {
	Validate() error
}

// Option is an extra registration option for a configuration module.
type Option func(*Module)

// WithNotify registers a function to call when the module configuration changes.
func WithNotify(fn NotifyFn) Option {
	return func(m *Module) {
		m.notify = append(m.notify, fn)
	}
}

// Module is a registered configuration fragment.
type Module struct {
	path        string
	description string
	ptr         interface{}
	defaults    func() interface{}
	notify      []NotifyFn
}

// registry of configuration modules.
type registry struct {
	sync.Mutex
	modules map[string]*Module
}

var modules = &registry{modules: make(map[string]*Module)}

// Register registers a configuration fragment under the given path. The fragment
// must be a pointer to a struct. defaults must return a pointer of the same type,
// holding the default configuration. Registration errors are programming errors
// and cause a panic.
func Register(path, description string, ptr interface{}, defaults func() interface{}, opts ...Option) {
	if err := register(path, description, ptr, defaults, opts...); err != nil {
		log.Panicf("%v", err)
	}
}

func register(path, description string, ptr interface{}, defaults func() interface{}, opts ...Option) error {
	if path == "" || strings.ContainsAny(path, ". ") {
		return configError("invalid module path %q", path)
	}
	if ptr == nil {
		return configError("module %q: nil configuration fragment", path)
	}
	t := reflect.TypeOf(ptr)
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return configError("module %q: fragment %T is not a pointer to a struct", path, ptr)
	}
	if defaults == nil {
		return configError("module %q: nil defaults function", path)
	}
	if dt := reflect.TypeOf(defaults()); dt != t {
		return configError("module %q: defaults of type %v, expected %v", path, dt, t)
	}

	modules.Lock()
	defer modules.Unlock()

	if _, ok := modules.modules[path]; ok {
		return configError("module %q already registered", path)
	}

	m := &Module{
		path:        path,
		description: description,
		ptr:         ptr,
		defaults:    defaults,
	}
	for _, o := range opts {
		o(m)
	}
	m.reset()
	modules.modules[path] = m

	return nil
}

// reset resets the module to its defaults.
func (m *Module) reset() {
	reflect.ValueOf(m.ptr).Elem().Set(reflect.ValueOf(m.defaults()).Elem())
}

// set resets the module to its defaults, then applies the given data on top.
func (m *Module) set(data Data) error {
	m.reset()
	if data == nil {
		return nil
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return configError("module %q: failed to marshal data: %v", m.path, err)
	}
	if err := yaml.UnmarshalStrict(raw, m.ptr); err != nil {
		return configError("module %q: %v", m.path, err)
	}
	return nil
}

func (m *Module) validate() error {
	if v, ok := m.ptr.(Validator); ok {
		if err := v.Validate(); err != nil {
			return configError("module %q: %v", m.path, err)
		}
	}
	return nil
}

func (m *Module) snapshot() ([]byte, error) {
	return yaml.Marshal(m.ptr)
}

func (m *Module) restore(raw []byte) {
	m.reset()
	if err := yaml.Unmarshal(raw, m.ptr); err != nil {
		log.Errorf("module %q: failed to restore configuration: %v", m.path, err)
	}
}

// sorted returns the registered modules sorted by path. Called with the lock held.
func (r *registry) sorted() []*Module {
	mods := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].path < mods[j].path })
	return mods
}

// SetConfig applies the given configuration data to all registered modules.
// Modules missing from data are reset to their defaults. If any part of the
// data fails to apply or validate, the previous configuration is restored.
func SetConfig(data Data, source Source) error {
	modules.Lock()
	defer modules.Unlock()

	data = data.copy()
	mods := modules.sorted()

	saved := make(map[string][]byte, len(mods))
	for _, m := range mods {
		raw, err := m.snapshot()
		if err != nil {
			return configError("module %q: failed to take snapshot: %v", m.path, err)
		}
		saved[m.path] = raw
	}

	var errs *multierror.Error
	for _, m := range mods {
		picked, err := data.pick(m.path)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := m.set(picked); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := m.validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for key := range data {
		errs = multierror.Append(errs, configError("unknown configuration module %q", key))
	}

	if err := errs.ErrorOrNil(); err != nil {
		for _, m := range mods {
			m.restore(saved[m.path])
		}
		notifyAll(mods, RevertEvent, source)
		return err
	}

	log.Infof("activated configuration from %s", source)
	return notifyAll(mods, UpdateEvent, source)
}

// SetYAML applies the given raw YAML configuration.
func SetYAML(raw []byte, source Source) error {
	data, err := ParseData(raw)
	if err != nil {
		return err
	}
	return SetConfig(data, source)
}

// SetConfigFromFile applies the configuration stored in the given file.
func SetConfigFromFile(path string) error {
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return SetConfig(data, ConfigFile)
}

// Reset resets every registered module to its defaults.
func Reset() error {
	return SetConfig(Data{}, Defaults)
}

// GetYAML returns the active configuration of all modules as YAML.
func GetYAML() ([]byte, error) {
	modules.Lock()
	defer modules.Unlock()

	all := make(map[string]interface{})
	for _, m := range modules.sorted() {
		all[m.path] = m.ptr
	}
	return yaml.Marshal(all)
}

// Describe returns a help text for the given or all modules.
func Describe(paths ...string) string {
	modules.Lock()
	defer modules.Unlock()

	want := map[string]bool{}
	for _, p := range paths {
		want[p] = true
	}

	b := &strings.Builder{}
	for _, m := range modules.sorted() {
		if len(want) > 0 && !want[m.path] {
			continue
		}
		fmt.Fprintf(b, "- %s:\n", m.path)
		for _, line := range strings.Split(strings.TrimSpace(m.description), "\n") {
			fmt.Fprintf(b, "    %s\n", line)
		}
	}
	return b.String()
}

func notifyAll(mods []*Module, event Event, source Source) error {
	var errs *multierror.Error
	for _, m := range mods {
		for _, fn := range m.notify {
			if err := fn(event, source); err != nil {
				errs = multierror.Append(errs, configError("module %q: %s notification failed: %v",
					m.path, event, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
