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

// Package version tags binaries with version metadata. The metadata is
// overridden at link time:
//
//	-ldflags "-X=github.com/intel/node-energy-policy/pkg/version.Version=<version> \
//	          -X=github.com/intel/node-energy-policy/pkg/version.Build=<build-id>"
package version

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/node-energy-policy/pkg/metrics"
)

// Default values of variables we'll override with the linker.
var (
	// Version is our version as given by 'git describe'.
	Version = "unknown"
	// Build is the SHA1 of the repository we've been built from.
	Build = "unknown"
)

// String returns the version metadata as a single line.
func String() string {
	return fmt.Sprintf("%s (build %s)", Version, Build)
}

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo() {
	fmt.Printf("%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Printf("  - version: %s\n", Version)
	fmt.Printf("  - build:   %s\n", Build)
}

// NewBuildInfoCollector returns a collector exporting the version metadata
// as a constant gauge.
func NewBuildInfoCollector() prometheus.Collector {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "energy_policy_build_info",
		Help: "Version metadata of the energy policy binary.",
		ConstLabels: prometheus.Labels{
			"version": Version,
			"build":   Build,
		},
	})
	g.Set(1)
	return g
}

// RegisterBuildInfoCollector registers the version metadata collector.
func RegisterBuildInfoCollector() error {
	return metrics.RegisterCollector("buildInfo", func() (prometheus.Collector, error) {
		return NewBuildInfoCollector(), nil
	})
}

// version hooks into flag parsing to print version information on -version.
type version struct{}

// IsBoolFlag tells flag that we only have optional arguments.
func (version) IsBoolFlag() bool {
	return true
}

// Set prints version information and exits if the flag is true.
func (version) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		PrintVersionInfo()
		os.Exit(0)
	}
	return nil
}

// String returns the default value of the flag.
func (*version) String() string {
	return "false"
}

func init() {
	flag.Var(&version{}, "version", "Print version information about "+filepath.Base(os.Args[0]))
}
