// Copyright 2019 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"io"
	"sync"
)

// Backend is an entity that can emit log messages.
type Backend interface {
	Name() string
	PrefixPreference() bool
	Info(message string)
	Warn(message string)
	Error(message string)
	Debug(message string)
}

const (
	// FmtBackendName is the name of the default backend.
	FmtBackendName = "fmt"
)

// RegisterBackend registers a logger backend, activating it if it is the configured one.
func RegisterBackend(b Backend) {
	logging.Lock()
	defer logging.Unlock()

	logging.backends[b.Name()] = b
	if opt.Backend == b.Name() {
		logging.active = b
	}
}

// SetBackend activates the named, already registered backend.
func SetBackend(name string) error {
	logging.Lock()
	defer logging.Unlock()

	b, ok := logging.backends[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	logging.active = b
	opt.Backend = name

	return nil
}

// ActiveBackend returns the name of the active backend.
func ActiveBackend() string {
	logging.RLock()
	defer logging.RUnlock()
	return logging.active.Name()
}

// fmtBackend writes plain prefixed lines to an io.Writer.
type fmtBackend struct {
	sync.Mutex
	w io.Writer
}

var _ Backend = &fmtBackend{}

// NewFmtBackend creates the default backend writing to w.
func NewFmtBackend(w io.Writer) Backend {
	return &fmtBackend{w: w}
}

func (f *fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) PrefixPreference() bool {
	return true
}

func (f *fmtBackend) Info(message string) {
	f.println("I: " + message)
}

func (f *fmtBackend) Warn(message string) {
	f.println("W: " + message)
}

func (f *fmtBackend) Error(message string) {
	f.println("E: " + message)
}

func (f *fmtBackend) Debug(message string) {
	f.println("D: " + message)
}

func (f *fmtBackend) println(line string) {
	f.Lock()
	defer f.Unlock()
	fmt.Fprintln(f.w, line)
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
