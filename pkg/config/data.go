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
	"os"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Data is configuration data, keyed by module path. A module can be given
// as a nested map or with dotted keys ("policy.plugin: min-time").
type Data map[string]interface{}

// ParseData parses raw YAML configuration data.
func ParseData(raw []byte) (Data, error) {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, configError("failed to parse configuration: %v", err)
	}
	return data, nil
}

// DataFromFile parses the YAML configuration data in the given file.
func DataFromFile(path string) (Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: failed to read file %q", path)
	}
	data, err := ParseData(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "file %q", path)
	}
	return data, nil
}

// remarshal converts a parsed YAML value into Data.
func remarshal(key string, obj interface{}) (Data, error) {
	raw, err := yaml.Marshal(obj)
	if err != nil {
		return nil, configError("%s: failed to marshal %T: %v", key, obj, err)
	}
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, configError("%s: expected a map, got %T", key, obj)
	}
	return data, nil
}

func (d Data) copy() Data {
	data := make(Data, len(d))
	for key, value := range d {
		data[key] = value
	}
	return data
}

// pick removes and returns the data of a module, merging the nested map of
// the module with its dotted keys.
func (d Data) pick(key string) (Data, error) {
	var data Data

	if obj, ok := d[key]; ok {
		delete(d, key)
		if obj != nil {
			picked, err := remarshal(key, obj)
			if err != nil {
				return nil, err
			}
			data = picked
		}
	}

	prefix := key + "."
	for k, v := range d {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if data == nil {
			data = make(Data)
		}
		sub := strings.TrimPrefix(k, prefix)
		if _, ok := data[sub]; ok {
			return nil, configError("dotted key %q conflicts with nested key %q", k, sub)
		}
		data[sub] = v
		delete(d, k)
	}

	return data, nil
}

// String returns configuration data as YAML.
func (d Data) String() string {
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Sprintf("<config: failed to marshal: %v>", err)
	}
	return string(raw)
}
