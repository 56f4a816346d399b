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
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/signature"
	"github.com/intel/node-energy-policy/pkg/utils/cpuset"
)

const (
	// SysfsRootPath is the mount path of sysfs.
	SysfsRootPath = "/sys"
	// sysfs devices/cpu subdirectory path
	sysfsCpuPath = "devices/system/cpu"
	// sysfs uncore frequency subdirectory path
	sysfsUncorePath = "devices/system/cpu/intel_uncore_frequency"
	// turboDelta is the offset of the turbo pseudo-frequency from nominal (kHz).
	turboDelta = 1000
	// freqStep is the step of generated pstate lists (kHz).
	freqStep = 100000
)

// System devices
type System struct {
	logger.Logger                  // our logger instance
	path          string           // sysfs mount point
	packages      map[int]*Package // physical packages
	cpus          map[int]*Cpu     // CPUs
	uncores       []*Uncore        // uncore frequency domains
}

// Package is a physical package (a collection of CPUs).
type Package struct {
	id   int           // package id
	cpus cpuset.CPUSet // CPUs in this package
}

// Cpu is a CPU core.
type Cpu struct {
	path    string        // sysfs path
	id      int           // CPU id
	pkg     int           // package id
	threads cpuset.CPUSet // sibling/hyper-threads
	freq    CpuFreq       // CPU frequencies
	online  bool          // whether this CPU is online
}

// CpuFreq is a CPU frequency scaling range
type CpuFreq struct {
	min  uint64   // minimum frequency (kHz)
	max  uint64   // maximum frequency (kHz)
	base uint64   // base (nominal) frequency if known (kHz)
	all  []uint64 // discrete set of frequencies if applicable/known
}

// Uncore is an uncore (memory controller) frequency domain.
type Uncore struct {
	path string // sysfs path
	pkg  int    // package id
	die  int    // die id
	min  uint64 // lowest frequency allowed by hardware (kHz)
	max  uint64 // highest frequency allowed by hardware (kHz)
}

// DiscoverSystem performs discovery of the running systems details.
func DiscoverSystem() (*System, error) {
	return DiscoverSystemAt(SysfsRootPath)
}

// DiscoverSystemAt performs discovery using the sysfs mounted at path.
func DiscoverSystemAt(path string) (*System, error) {
	sys := &System{
		Logger: logger.NewLogger("sysfs"),
		path:   path,
	}

	if err := sys.discoverCpus(); err != nil {
		return nil, err
	}
	sys.discoverPackages()
	sys.discoverUncores()

	if sys.DebugEnabled() {
		for _, id := range sys.PackageIds() {
			sys.Debug("package #%d: cpus %s", id, cpuset.ShortCPUSet(sys.packages[id].cpus))
		}
		for _, id := range sys.CpuIds() {
			cpu := sys.cpus[id]
			sys.Debug("CPU #%d: pkg %d, threads %s, freq %d - %d", id, cpu.pkg,
				cpuset.ShortCPUSet(cpu.threads), cpu.freq.min, cpu.freq.max)
		}
		for _, u := range sys.uncores {
			sys.Debug("uncore package %d die %d: %d - %d", u.pkg, u.die, u.min, u.max)
		}
	}

	return sys, nil
}

// Discover CPUs present in the system.
func (sys *System) discoverCpus() error {
	sys.cpus = make(map[int]*Cpu)

	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsCpuPath, "cpu[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverCpu(entry); err != nil {
			return fmt.Errorf("failed to discover cpu for entry %s: %w", entry, err)
		}
	}
	if len(sys.cpus) == 0 {
		return sysfsError(filepath.Join(sys.path, sysfsCpuPath), "no CPUs found")
	}

	return nil
}

// Discover details of the given CPU.
func (sys *System) discoverCpu(path string) error {
	cpu := &Cpu{path: path, id: getEnumeratedID(path), online: true}

	online := 1
	if _, err := readSysfsEntry(path, "online", &online); err == nil {
		cpu.online = online != 0
	}
	if !cpu.online {
		sys.cpus[cpu.id] = cpu
		return nil
	}

	if _, err := readSysfsEntry(path, "topology/physical_package_id", &cpu.pkg); err != nil {
		return err
	}
	if _, err := readSysfsEntry(path, "topology/thread_siblings_list", &cpu.threads); err != nil {
		return err
	}
	if _, err := readSysfsEntry(path, "cpufreq/cpuinfo_min_freq", &cpu.freq.min); err != nil {
		cpu.freq.min = 0
	}
	if _, err := readSysfsEntry(path, "cpufreq/cpuinfo_max_freq", &cpu.freq.max); err != nil {
		cpu.freq.max = 0
	}
	if _, err := readSysfsEntry(path, "cpufreq/base_frequency", &cpu.freq.base); err != nil {
		cpu.freq.base = 0
	}
	if _, err := readSysfsEntry(path, "cpufreq/scaling_available_frequencies", &cpu.freq.all); err != nil {
		cpu.freq.all = nil
	}

	sys.cpus[cpu.id] = cpu

	return nil
}

// Discover physical packages present in the system.
func (sys *System) discoverPackages() {
	sys.packages = make(map[int]*Package)

	for _, cpu := range sys.cpus {
		if !cpu.online {
			continue
		}
		pkg, found := sys.packages[cpu.pkg]
		if !found {
			pkg = &Package{id: cpu.pkg, cpus: cpuset.New()}
			sys.packages[cpu.pkg] = pkg
		}
		pkg.cpus = pkg.cpus.Union(cpuset.New(cpu.id))
	}
}

// Discover uncore frequency domains.
func (sys *System) discoverUncores() {
	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsUncorePath, "package_*_die_*"))
	for _, entry := range entries {
		u := &Uncore{path: entry}
		if _, err := fmt.Sscanf(filepath.Base(entry), "package_%d_die_%d", &u.pkg, &u.die); err != nil {
			sys.Warn("ignoring uncore entry %s: %v", entry, err)
			continue
		}
		if _, err := readSysfsEntry(entry, "initial_min_freq_khz", &u.min); err != nil {
			sys.Warn("ignoring uncore entry %s: %v", entry, err)
			continue
		}
		if _, err := readSysfsEntry(entry, "initial_max_freq_khz", &u.max); err != nil {
			sys.Warn("ignoring uncore entry %s: %v", entry, err)
			continue
		}
		sys.uncores = append(sys.uncores, u)
	}
	sort.Slice(sys.uncores, func(i, j int) bool {
		if sys.uncores[i].pkg != sys.uncores[j].pkg {
			return sys.uncores[i].pkg < sys.uncores[j].pkg
		}
		return sys.uncores[i].die < sys.uncores[j].die
	})
}

// PackageIds gets the ids of all packages present in the system.
func (sys *System) PackageIds() []int {
	ids := make([]int, 0, len(sys.packages))
	for id := range sys.packages {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CpuIds gets the ids of all CPUs present in the system.
func (sys *System) CpuIds() []int {
	ids := make([]int, 0, len(sys.cpus))
	for id := range sys.cpus {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CpuCount returns the number of CPUs, including offline ones.
func (sys *System) CpuCount() int {
	max := -1
	for id := range sys.cpus {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// CPUSet gets the ids of all online CPUs present in the system as a CPUSet.
func (sys *System) CPUSet() cpuset.CPUSet {
	ids := []int{}
	for id, cpu := range sys.cpus {
		if cpu.online {
			ids = append(ids, id)
		}
	}
	return cpuset.New(ids...)
}

// Package gets the package with a given package id.
func (sys *System) Package(id int) *Package {
	return sys.packages[id]
}

// Cpu gets the CPU with a given CPU id.
func (sys *System) Cpu(id int) *Cpu {
	return sys.cpus[id]
}

// Uncores returns the uncore frequency domains of the system.
func (sys *System) Uncores() []*Uncore {
	return sys.uncores
}

// SocketCPUSets returns the CPUs of each package, in package id order.
func (sys *System) SocketCPUSets() []cpuset.CPUSet {
	sets := []cpuset.CPUSet{}
	for _, id := range sys.PackageIds() {
		sets = append(sets, sys.packages[id].cpus)
	}
	return sets
}

// TurboEnabled checks if frequencies above nominal are enabled.
func (sys *System) TurboEnabled() bool {
	base := filepath.Join(sys.path, sysfsCpuPath)
	noTurbo := 0
	if _, err := readSysfsEntry(base, "intel_pstate/no_turbo", &noTurbo); err == nil {
		return noTurbo == 0
	}
	boost := 0
	if _, err := readSysfsEntry(base, "cpufreq/boost", &boost); err == nil {
		return boost != 0
	}
	return false
}

// CPUCaps returns the CPU pstates of the system. The list of available
// frequencies is used when the driver exposes one, otherwise the list is
// generated from nominal down to the minimum frequency. With turbo enabled,
// pstate 0 is the turbo pseudo-frequency, nominal plus 1 MHz.
func (sys *System) CPUCaps() (signature.CPUCaps, error) {
	cpu := sys.firstOnlineCpu()
	if cpu == nil || cpu.freq.max == 0 {
		return signature.CPUCaps{}, sysfsError(filepath.Join(sys.path, sysfsCpuPath), "no cpufreq support")
	}

	if len(cpu.freq.all) > 0 {
		freqs := make([]signature.Freq, 0, len(cpu.freq.all))
		for _, f := range cpu.freq.all {
			freqs = append(freqs, signature.Freq(f))
		}
		p := signature.NewPstates(freqs...)
		turbo := p.Len() > 1 && p[0]-p[1] == turboDelta
		return signature.CPUCaps{Pstates: p, Turbo: turbo}, nil
	}

	nominal := cpu.freq.base
	if nominal == 0 {
		nominal = cpu.freq.max
	}
	freqs := []signature.Freq{}
	turbo := sys.TurboEnabled() && cpu.freq.max > nominal
	if turbo {
		freqs = append(freqs, signature.Freq(nominal+turboDelta))
	}
	for f := nominal; f >= cpu.freq.min && f > 0; f -= freqStep {
		freqs = append(freqs, signature.Freq(f))
		if f < freqStep {
			break
		}
	}

	return signature.CPUCaps{Pstates: signature.NewPstates(freqs...), Turbo: turbo}, nil
}

// IMCCaps returns the uncore pstates of the system, generated in 100 MHz
// steps between the hardware limits of the first domain.
func (sys *System) IMCCaps() signature.IMCCaps {
	if len(sys.uncores) == 0 {
		return signature.IMCCaps{}
	}

	u := sys.uncores[0]
	freqs := []signature.Freq{}
	for f := u.max; f >= u.min && f > 0; f -= freqStep {
		freqs = append(freqs, signature.Freq(f))
		if f < freqStep {
			break
		}
	}
	p := signature.NewPstates(freqs...)

	return signature.IMCCaps{
		Pstates:   p,
		Sockets:   len(sys.uncores),
		MinPstate: 0,
		MaxPstate: p.Lowest(),
	}
}

func (sys *System) firstOnlineCpu() *Cpu {
	for _, id := range sys.CpuIds() {
		if cpu := sys.cpus[id]; cpu.online {
			return cpu
		}
	}
	return nil
}

// SetCpuFrequencies pins every CPU to the frequency given for it. CPUs with
// a zero frequency are left untouched.
func (sys *System) SetCpuFrequencies(freqs []signature.Freq) error {
	var errs *multierror.Error
	for id, f := range freqs {
		if f == 0 {
			continue
		}
		cpu, ok := sys.cpus[id]
		if !ok || !cpu.online {
			continue
		}
		if err := cpu.SetFrequencyLimits(uint64(f), uint64(f)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// SetUncoreRanges sets the uncore frequency range of every domain, given
// as pstates of the IMC pstate list.
func (sys *System) SetUncoreRanges(pstates signature.Pstates, ranges []signature.IMCRange) error {
	var errs *multierror.Error
	for i, u := range sys.uncores {
		if i >= len(ranges) {
			break
		}
		max := uint64(pstates.Freq(ranges[i].Max))
		min := uint64(pstates.Freq(ranges[i].Min))
		if err := u.SetLimits(min, max); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Id returns the id of this package.
func (p *Package) Id() int {
	return p.id
}

// CPUSet returns the CPUSet for all cores/threads in this package.
func (p *Package) CPUSet() cpuset.CPUSet {
	return p.cpus
}

// Id returns the id of this CPU.
func (c *Cpu) Id() int {
	return c.id
}

// PackageId returns package id of this CPU.
func (c *Cpu) PackageId() int {
	return c.pkg
}

// ThreadCPUSet returns the CPUSet for all threads in this core.
func (c *Cpu) ThreadCPUSet() cpuset.CPUSet {
	return c.threads
}

// Online returns if this CPU is online.
func (c *Cpu) Online() bool {
	return c.online
}

// FrequencyRange returns the frequency range of this CPU (kHz).
func (c *Cpu) FrequencyRange() (min, max uint64) {
	return c.freq.min, c.freq.max
}

// SetFrequencyLimits sets the frequency scaling limits (kHz) for this CPU,
// clamped to the hardware limits.
func (c *Cpu) SetFrequencyLimits(min, max uint64) error {
	if c.freq.min == 0 {
		return nil
	}

	min = clamp(min, c.freq.min, c.freq.max)
	max = clamp(max, c.freq.min, c.freq.max)

	// lower the minimum first so the new maximum is always accepted
	if err := writeSysfsEntry(c.path, "cpufreq/scaling_min_freq", c.freq.min); err != nil {
		return err
	}
	if err := writeSysfsEntry(c.path, "cpufreq/scaling_max_freq", max); err != nil {
		return err
	}
	return writeSysfsEntry(c.path, "cpufreq/scaling_min_freq", min)
}

// Package returns the package id of this uncore domain.
func (u *Uncore) Package() int {
	return u.pkg
}

// SetLimits sets the uncore frequency limits (kHz), clamped to the hardware limits.
func (u *Uncore) SetLimits(min, max uint64) error {
	min = clamp(min, u.min, u.max)
	max = clamp(max, u.min, u.max)
	if min > max {
		min = max
	}

	if err := writeSysfsEntry(u.path, "min_freq_khz", u.min); err != nil {
		return err
	}
	if err := writeSysfsEntry(u.path, "max_freq_khz", max); err != nil {
		return err
	}
	return writeSysfsEntry(u.path, "min_freq_khz", min)
}

func clamp(v, min, max uint64) uint64 {
	switch {
	case v == 0:
		return min
	case v < min:
		return min
	case max != 0 && v > max:
		return max
	}
	return v
}
