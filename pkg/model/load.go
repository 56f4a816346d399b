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

package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/config"
	logger "github.com/intel/node-energy-policy/pkg/log"
)

const (
	// configModule is our module name in the runtime configuration.
	configModule = "model"
	// fileSuffix is the suffix of model files.
	fileSuffix = ".json"
)

var log = logger.NewLogger("model")

// Options are the runtime configurable model settings.
type Options struct {
	// Directory is where per-architecture model files are looked up.
	Directory string `json:"directory,omitempty"`
	// Disabled forces model-free frequency selection.
	Disabled bool `json:"disabled,omitempty"`
}

var opt = defaultOptions().(*Options)

func defaultOptions() interface{} {
	return &Options{
		Directory: "/etc/node-energy-policy/models",
	}
}

// Load loads the model of the given architecture from the configured model
// directory. A missing model is not an error: Load returns nil and the caller
// falls back to model-free selection.
func Load(arch string) (Model, error) {
	if opt.Disabled {
		log.Info("energy models disabled by configuration")
		return nil, nil
	}
	return LoadFrom(opt.Directory, arch)
}

// LoadFrom loads the model of the given architecture from dir.
func LoadFrom(dir, arch string) (Model, error) {
	if dir == "" || arch == "" {
		return nil, nil
	}

	path := filepath.Join(dir, sanitize(arch)+fileSuffix)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no energy model for architecture %q (%s)", arch, path)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "model: failed to read %q", path)
	}

	m := &Linear{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, errors.Wrapf(err, "model: failed to parse %q", path)
	}
	if err := m.build(); err != nil {
		return nil, errors.Wrapf(err, "model: invalid model %q", path)
	}
	if m.Architecture == "" {
		m.Architecture = arch
	}

	log.Info("loaded energy model for %q with %d projections", m.Architecture, len(m.Coefficients))
	return m, nil
}

// sanitize turns an architecture name into a file name.
func sanitize(arch string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, arch)
}

const configHelp = `
Energy model lookup.

  model:
    directory: /etc/node-energy-policy/models
    disabled: false
`

func init() {
	config.Register(configModule, configHelp, opt, defaultOptions)
}
