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
	"encoding/json"
	"strings"

	pkgcfg "github.com/intel/node-energy-policy/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// configModule is our module name in the runtime configuration.
	configModule = "logger"
)

// options are the runtime configurable logger settings.
type options struct {
	// Level is the lowest severity of messages to pass through.
	Level Level `json:"level,omitempty"`
	// Sources lists the sources with normal logging enabled, '*' for all.
	Sources []string `json:"sources,omitempty"`
	// Debug lists the sources with debug logging enabled, '*' for all.
	Debug []string `json:"debug,omitempty"`
	// Backend is the name of the logger backend to use.
	Backend string `json:"backend,omitempty"`
}

// Our runtime configuration.
var opt = defaultOptions().(*options)

func defaultOptions() interface{} {
	return &options{
		Level:   DefaultLevel,
		Sources: []string{"*"},
		Backend: FmtBackendName,
	}
}

func matchSource(list []string, source string) bool {
	for _, s := range list {
		if s == "*" || s == "all" || s == source {
			return true
		}
	}
	return false
}

func (o *options) sourceEnabled(source string) bool {
	return matchSource(o.Sources, source)
}

func (o *options) debugEnabled(source string) bool {
	return matchSource(o.Debug, source)
}

// Validate checks the configured logger settings.
func (o *options) Validate() error {
	if o.Level < LevelDebug || o.Level > LevelError {
		return loggerError("invalid logging level %d", o.Level)
	}
	return nil
}

// ParseLevel parses the name of a severity level.
func ParseLevel(value string) (Level, error) {
	levels := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	level, ok := levels[strings.ToLower(value)]
	if !ok {
		return LevelInfo, loggerError("invalid logging level %q", value)
	}
	return level, nil
}

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "error"
	}
	return "info"
}

// MarshalJSON marshals a level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON unmarshals a level from its name.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// SetLevel sets the lowest severity level of messages to pass through.
func SetLevel(level Level) {
	opt.Level = level
	updateLoggers()
}

// EnableDebug turns debugging on for the given sources.
func EnableDebug(sources ...string) {
	opt.Debug = append(opt.Debug, sources...)
	updateLoggers()
}

// configNotify applies a configuration update.
func configNotify(event pkgcfg.Event, _ pkgcfg.Source) error {
	if err := SetBackend(opt.Backend); err != nil {
		return err
	}
	updateLoggers()
	return nil
}

const configHelp = `
Logging and debugging messages.

  logger:
    level: warning
    sources: ["*"]
    debug: [policy, states]
`

func init() {
	pkgcfg.Register(configModule, configHelp, opt, defaultOptions,
		pkgcfg.WithNotify(configNotify))

	pkgcfg.SetLogger(pkgcfg.Logger{
		Debugf: func(f string, a ...interface{}) { Get("config").Debug(f, a...) },
		Infof:  func(f string, a ...interface{}) { Get("config").Info(f, a...) },
		Warnf:  func(f string, a ...interface{}) { Get("config").Warn(f, a...) },
		Errorf: func(f string, a ...interface{}) { Get("config").Error(f, a...) },
	})
}
