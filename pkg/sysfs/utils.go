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

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

// Get the trailing enumeration part of a name.
func getEnumeratedID(name string) int {
	id := 0
	base := 1
	for idx := len(name) - 1; idx > 0; idx-- {
		d := name[idx]

		if '0' <= d && d <= '9' {
			id += base * (int(d) - '0')
			base *= 10
		} else {
			if base > 1 {
				return id
			}

			return -1
		}
	}

	return -1
}

// Read content of a sysfs entry and convert it according to the type of a given pointer.
func readSysfsEntry(base, entry string, ptr interface{}) (string, error) {
	path := filepath.Join(base, entry)

	blob, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "sysfs: failed to read %q", path)
	}
	buf := strings.TrimSpace(string(blob))

	switch v := ptr.(type) {
	case nil:
		return buf, nil
	case *string:
		*v = buf
	case *int:
		i, err := strconv.ParseInt(buf, 0, 0)
		if err != nil {
			return "", sysfsError(path, "invalid entry '%s': %v", buf, err)
		}
		*v = int(i)
	case *uint64:
		u, err := strconv.ParseUint(buf, 0, 64)
		if err != nil {
			return "", sysfsError(path, "invalid entry '%s': %v", buf, err)
		}
		*v = u
	case *[]uint64:
		list := []uint64{}
		for _, s := range strings.Fields(buf) {
			u, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return "", sysfsError(path, "invalid entry '%s': %v", s, err)
			}
			list = append(list, u)
		}
		*v = list
	case *cpuset.CPUSet:
		cset, err := cpuset.Parse(buf)
		if err != nil {
			return "", sysfsError(path, "invalid CPU set '%s': %v", buf, err)
		}
		*v = cset
	default:
		return "", sysfsError(path, "unsupported sysfs entry type %T", ptr)
	}

	return buf, nil
}

// Write a value to a sysfs entry.
func writeSysfsEntry(base, entry string, val interface{}) error {
	path := filepath.Join(base, entry)

	var buf string
	switch v := val.(type) {
	case string:
		buf = v
	case int, uint64:
		buf = fmt.Sprintf("%d", v)
	default:
		return sysfsError(path, "unsupported sysfs entry type %T", val)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "sysfs: cannot open %q", path)
	}
	defer f.Close()

	if _, err = f.Write([]byte(buf + "\n")); err != nil {
		return errors.Wrapf(err, "sysfs: cannot write %q", path)
	}

	return nil
}

// sysfsError returns a formatted sysfs-specific error.
func sysfsError(path, format string, args ...interface{}) error {
	return fmt.Errorf("sysfs: "+path+": "+format, args...)
}
