// Copyright 2020 Intel Corporation. All Rights Reserved.
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

package cpuset

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

// CPUSet is an alias for k8s.io/utils/cpuset.CPUSet.
type CPUSet = cpuset.CPUSet

var (
	// New is an alias for cpuset.New.
	New = cpuset.New
	// Parse is an alias for cpuset.Parse.
	Parse = cpuset.Parse
)

// MustParse panics if parsing the given cpuset string fails.
func MustParse(s string) cpuset.CPUSet {
	cset, err := cpuset.Parse(s)
	if err != nil {
		panic(fmt.Errorf("failed to parse CPUSet %s: %w", s, err))
	}
	return cset
}

// Range returns the set of CPUs [0, count).
func Range(count int) cpuset.CPUSet {
	ids := make([]int, 0, count)
	for id := 0; id < count; id++ {
		ids = append(ids, id)
	}
	return cpuset.New(ids...)
}

// ShortCPUSet prints the cpuset as a string, folding strided runs of
// CPUs (for instance hyperthread siblings 0,2,4,6) into 0-6:2.
func ShortCPUSet(cset cpuset.CPUSet) string {
	ids := cset.List()
	if len(ids) == 0 {
		return ""
	}

	parts := []string{}
	for beg := 0; beg < len(ids); {
		end := beg
		step := -1
		if beg+1 < len(ids) {
			step = ids[beg+1] - ids[beg]
			end = beg + 1
			for end+1 < len(ids) && ids[end+1]-ids[end] == step {
				end++
			}
		}
		// a pair with a stride is better printed as two singles
		if end-beg == 1 && step != 1 {
			parts = append(parts, strconv.Itoa(ids[beg]))
			beg++
			continue
		}
		parts = append(parts, mkRange(ids[beg], ids[end], step))
		beg = end + 1
	}

	return strings.Join(parts, ",")
}

func mkRange(beg, end, step int) string {
	b, e := strconv.Itoa(beg), strconv.Itoa(end)
	switch {
	case beg == end:
		return b
	case step == 1:
		return b + "-" + e
	default:
		return b + "-" + e + ":" + strconv.Itoa(step)
	}
}
