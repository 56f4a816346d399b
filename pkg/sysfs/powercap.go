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

package sysfs

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// sysfs powercap subdirectory path
	sysfsPowercapPath = "class/powercap"
	// RAPL package zone prefix
	raplZonePrefix = "intel-rapl:"
)

// PowercapLimit returns the sum of the long term power limits of all RAPL
// package zones, in W. Zero means no limit could be found.
func (sys *System) PowercapLimit() (float64, error) {
	dir := filepath.Join(sys.path, sysfsPowercapPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, sysfsError(dir, "failed to list powercap zones: %v", err)
	}

	total := uint64(0)
	for _, e := range entries {
		name := e.Name()
		// sub-zones (intel-rapl:0:0) are accounted in their package zone
		if !strings.HasPrefix(name, raplZonePrefix) || strings.Count(name, ":") != 1 {
			continue
		}
		uw := uint64(0)
		if _, err := readSysfsEntry(filepath.Join(dir, name), "constraint_0_power_limit_uw", &uw); err != nil {
			return 0, err
		}
		sys.Debug("RAPL zone %s: limit %d uW", name, uw)
		total += uw
	}

	return float64(total) / 1e6, nil
}
