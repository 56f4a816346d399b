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

package nodemap

import (
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"

	logger "github.com/intel/node-energy-policy/pkg/log"
)

// VendorAMD is the vendor id of CPUs setting a single frequency per socket.
const VendorAMD = "AuthenticAMD"

var log = logger.NewLogger("nodemap")

// cpuInfoReader reads /proc/cpuinfo.
type cpuInfoReader interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// DetectVendor returns the CPU vendor id from the procfs mounted at procRoot.
func DetectVendor(procRoot string) (string, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return "", errors.Wrapf(err, "nodemap: failed to open procfs at %q", procRoot)
	}
	return detectVendor(fs)
}

func detectVendor(fs cpuInfoReader) (string, error) {
	info, err := fs.CPUInfo()
	if err != nil {
		return "", errors.Wrap(err, "nodemap: failed to read cpuinfo")
	}
	if len(info) == 0 {
		return "", errors.New("nodemap: no CPUs in cpuinfo")
	}
	return info[0].VendorID, nil
}

// RequiresSocketUniform checks if CPUs of the vendor set one frequency per socket.
func RequiresSocketUniform(vendor string) bool {
	return vendor == VendorAMD
}

// SocketUniformFor detects the vendor from procRoot and tells if the socket
// uniform rule applies. Failures are logged and disable the rule.
func SocketUniformFor(procRoot string) bool {
	vendor, err := DetectVendor(procRoot)
	if err != nil {
		log.Warn("failed to detect CPU vendor, assuming per-core frequencies: %v", err)
		return false
	}
	uniform := RequiresSocketUniform(vendor)
	if uniform {
		log.Info("%s CPUs: enforcing socket uniform frequencies", vendor)
	}
	return uniform
}
