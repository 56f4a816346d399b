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

package main

import (
	"flag"
)

// options captures our command line options.
type options struct {
	configFile  string // file to read configuration from
	trace       string // CSV trace to replay
	plugin      string // plugin overriding the configured one
	metrics     string // address to serve metrics on
	pidFile     string // PID file to write
	sysfs       string // sysfs root to actuate on, empty for a dry run
	procfs      string // procfs root for CPU vendor detection
	cpus        int    // CPUs of the simulated node
	processes   int    // processes of the job
	pids        string // process IDs of the job by local rank
	gpus        bool   // discover NVIDIA GPUs
	nominal     uint64 // nominal frequency of the simulated node (kHz)
	arch        string // energy model architecture
	listPlugins bool   // list available plugins and exit
	describe    bool   // describe configuration and exit
}

var opt = options{}

func init() {
	flag.StringVar(&opt.configFile, "config", "", "file to read configuration from")
	flag.StringVar(&opt.trace, "trace", "", "CSV signature trace to replay")
	flag.StringVar(&opt.plugin, "plugin", "", "policy plugin to use, overriding the configuration")
	flag.StringVar(&opt.metrics, "metrics", "", "address to serve Prometheus metrics on, e.g. :8891")
	flag.StringVar(&opt.pidFile, "pid-file", "", "PID file to write")
	flag.StringVar(&opt.sysfs, "sysfs", "", "sysfs root to discover and actuate frequencies on, dry run if empty")
	flag.StringVar(&opt.procfs, "procfs", "/proc", "procfs root used for CPU vendor detection")
	flag.IntVar(&opt.cpus, "cpus", 8, "number of CPUs of the simulated node")
	flag.IntVar(&opt.processes, "processes", 1, "number of processes of the job")
	flag.StringVar(&opt.pids, "pids", "", "comma-separated process IDs of the job by local rank, for CPU affinity")
	flag.BoolVar(&opt.gpus, "gpus", true, "discover NVIDIA GPUs of a sysfs discovered node")
	flag.Uint64Var(&opt.nominal, "nominal", 2400000, "nominal frequency of the simulated node, in kHz")
	flag.StringVar(&opt.arch, "arch", "", "energy model architecture, model-free selection if empty")
	flag.BoolVar(&opt.listPlugins, "list-plugins", false, "list available policy plugins and exit")
	flag.BoolVar(&opt.describe, "describe-config", false, "describe configuration and exit")
}
