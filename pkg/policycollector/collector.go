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

package policycollector

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/metrics"
	"github.com/intel/node-energy-policy/pkg/metricsring"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/states"
)

// CollectorName is the name the collector registers with.
const CollectorName = "energyPolicy"

var (
	cpuFreqDesc = prometheus.NewDesc(
		"energy_policy_cpu_frequency_hertz",
		"Average CPU frequency selected by the node policy.",
		[]string{"plugin"}, nil)
	gpuFreqDesc = prometheus.NewDesc(
		"energy_policy_gpu_frequency_hertz",
		"Average GPU frequency selected by the node policy.",
		[]string{"plugin"}, nil)
	decisionsDesc = prometheus.NewDesc(
		"energy_policy_decisions_total",
		"Number of node policy decisions, by status.",
		[]string{"plugin", "status"}, nil)
	phaseDesc = prometheus.NewDesc(
		"energy_policy_phase",
		"Application phase of the last decision.",
		[]string{"phase"}, nil)
	stateDesc = prometheus.NewDesc(
		"energy_policy_state",
		"State of the policy state machine.",
		[]string{"state"}, nil)
	savingsDesc = prometheus.NewDesc(
		"energy_policy_energy_savings_percent",
		"Estimated energy savings of the last accepted decision.",
		[]string{"plugin"}, nil)
	iterationDesc = prometheus.NewDesc(
		"energy_policy_iteration_seconds",
		"Moving average of the iteration time of the application.",
		nil, nil)
)

// PolicyCollector exports the decisions of the node policy.
type PolicyCollector struct {
	sync.Mutex
	plugin     string
	cpuFreq    float64
	gpuFreq    float64
	decisions  map[policy.Status]uint64
	phase      classify.Phase
	state      states.State
	savings    float64
	iterations metricsring.SampleBuffer
}

// NewPolicyCollector creates a collector for the decisions of the named plugin.
func NewPolicyCollector(plugin string) *PolicyCollector {
	return &PolicyCollector{
		plugin:     plugin,
		decisions:  map[policy.Status]uint64{},
		phase:      classify.CompBound,
		state:      states.TestLoop,
		iterations: metricsring.NewMetricsRing(30),
	}
}

// ObserveDecision records a node policy decision.
func (c *PolicyCollector) ObserveDecision(d policy.Decision) {
	c.Lock()
	defer c.Unlock()
	c.decisions[d.Status]++
	c.phase = d.Phase
	if d.Applied {
		c.cpuFreq = float64(d.AvgCPU) * 1000
		c.gpuFreq = float64(d.AvgGPU) * 1000
	}
}

// ObserveState records the state of the state machine.
func (c *PolicyCollector) ObserveState(s states.State) {
	c.Lock()
	defer c.Unlock()
	c.state = s
}

// ObserveSavings records the savings of an accepted decision.
func (c *PolicyCollector) ObserveSavings(s policy.Savings) {
	c.Lock()
	defer c.Unlock()
	c.savings = s.Energy
}

// ObserveIteration records the time of an application iteration.
func (c *PolicyCollector) ObserveIteration(d time.Duration, at time.Time) {
	c.Lock()
	defer c.Unlock()
	c.iterations.Push(d.Seconds(), at)
}

// Describe implements prometheus.Collector interface
func (c *PolicyCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{cpuFreqDesc, gpuFreqDesc, decisionsDesc,
		phaseDesc, stateDesc, savingsDesc, iterationDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *PolicyCollector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	defer c.Unlock()

	ch <- prometheus.MustNewConstMetric(cpuFreqDesc, prometheus.GaugeValue, c.cpuFreq, c.plugin)
	ch <- prometheus.MustNewConstMetric(gpuFreqDesc, prometheus.GaugeValue, c.gpuFreq, c.plugin)
	for _, status := range []policy.Status{policy.Continue, policy.TryAgain, policy.Ready, policy.GlobalEval} {
		ch <- prometheus.MustNewConstMetric(decisionsDesc, prometheus.CounterValue,
			float64(c.decisions[status]), c.plugin, status.String())
	}
	ch <- prometheus.MustNewConstMetric(phaseDesc, prometheus.GaugeValue, 1, c.phase.String())
	ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, 1, c.state.String())
	ch <- prometheus.MustNewConstMetric(savingsDesc, prometheus.GaugeValue, c.savings, c.plugin)
	ch <- prometheus.MustNewConstMetric(iterationDesc, prometheus.GaugeValue, c.iterations.Mean())
}

// RegisterPolicyMetricsCollector registers the collector for metrics collection.
func (c *PolicyCollector) RegisterPolicyMetricsCollector() error {
	return metrics.RegisterCollector(CollectorName, func() (prometheus.Collector, error) {
		return c, nil
	})
}
