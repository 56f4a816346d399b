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

package mpistats

import (
	"os"
	"strconv"
)

// BlockType describes how the MPI runtime waits in blocking calls.
type BlockType int

const (
	// BusyWaitingBlock spins on the CPU.
	BusyWaitingBlock BlockType = iota
	// YieldBlock yields the CPU while waiting.
	YieldBlock
)

// String returns the name of the block type.
func (b BlockType) String() string {
	if b == YieldBlock {
		return "yield"
	}
	return "busy-waiting"
}

// yieldVariables are the environment variables of MPI runtimes that make
// blocking calls yield when set to a non-zero value.
var yieldVariables = []string{
	"I_MPI_WAIT_MODE",
	"I_MPI_THREAD_YIELD",
	"OMPI_MCA_mpi_yield_when_idle",
}

// BlockingType detects the waiting mode of the MPI runtime from the environment.
func BlockingType() BlockType {
	return blockingType(os.Getenv)
}

func blockingType(getenv func(string) string) BlockType {
	block := BusyWaitingBlock
	for _, name := range yieldVariables {
		value := getenv(name)
		if value == "" {
			continue
		}
		log.Debug("%s=%s", name, value)
		if n, err := strconv.Atoi(value); err == nil && n != 0 {
			block = YieldBlock
		}
	}
	return block
}
