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

// Package affinity reads and sets the CPU affinity masks of processes.
package affinity

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

// maxCPUs is the number of CPUs a kernel CPU mask can hold.
const maxCPUs = 1024

// Get returns the affinity mask of the process pid, 0 being the caller.
func Get(pid int) (cpuset.CPUSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return cpuset.New(), errors.Wrapf(err, "affinity: failed to get mask of pid %d", pid)
	}
	return FromUnix(&set), nil
}

// Set sets the affinity mask of the process pid, 0 being the caller.
func Set(pid int, cset cpuset.CPUSet) error {
	set := ToUnix(cset)
	if err := unix.SchedSetaffinity(pid, &set); err != nil {
		return errors.Wrapf(err, "affinity: failed to set mask of pid %d to %s", pid, cset)
	}
	return nil
}

// FromUnix converts a kernel CPU mask to a CPUSet.
func FromUnix(set *unix.CPUSet) cpuset.CPUSet {
	ids := make([]int, 0, set.Count())
	for id := 0; id < maxCPUs && len(ids) < cap(ids); id++ {
		if set.IsSet(id) {
			ids = append(ids, id)
		}
	}
	return cpuset.New(ids...)
}

// ToUnix converts a CPUSet to a kernel CPU mask.
func ToUnix(cset cpuset.CPUSet) unix.CPUSet {
	var set unix.CPUSet
	set.Zero()
	for _, id := range cset.List() {
		set.Set(id)
	}
	return set
}
