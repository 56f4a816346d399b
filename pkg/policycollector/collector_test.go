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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"

	"github.com/intel/node-energy-policy/pkg/classify"
	"github.com/intel/node-energy-policy/pkg/metrics"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/states"
)

func TestPolicyCollector(t *testing.T) {
	c := NewPolicyCollector("min-energy")
	require.NoError(t, c.RegisterPolicyMetricsCollector())
	t.Cleanup(func() { metrics.UnregisterCollector(CollectorName) })
	require.Error(t, c.RegisterPolicyMetricsCollector())

	c.ObserveDecision(policy.Decision{Status: policy.TryAgain, Phase: classify.CompBound, Applied: true, AvgCPU: 2400000})
	c.ObserveDecision(policy.Decision{Status: policy.Ready, Phase: classify.MemBound, Applied: true, AvgCPU: 2000000})
	c.ObserveDecision(policy.Decision{Status: policy.Continue, Phase: classify.MemBound})
	c.ObserveState(states.SignatureStable)
	c.ObserveSavings(policy.Savings{Energy: 12.5})
	now := time.Now()
	c.ObserveIteration(time.Second, now)
	c.ObserveIteration(3*time.Second, now.Add(3*time.Second))

	g, err := metrics.NewMetricGatherer()
	require.NoError(t, err)
	families, err := g.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Equal(t, 2e9, byName["energy_policy_cpu_frequency_hertz"].GetMetric()[0].GetGauge().GetValue())
	require.Equal(t, 12.5, byName["energy_policy_energy_savings_percent"].GetMetric()[0].GetGauge().GetValue())
	require.Equal(t, 2.0, byName["energy_policy_iteration_seconds"].GetMetric()[0].GetGauge().GetValue())

	counts := map[string]float64{}
	for _, m := range byName["energy_policy_decisions_total"].GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				counts[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, map[string]float64{"continue": 1, "try-again": 1, "ready": 1, "global-eval": 0}, counts)

	phase := byName["energy_policy_phase"].GetMetric()
	require.Len(t, phase, 1)
	require.Equal(t, classify.MemBound.String(), phase[0].GetLabel()[0].GetValue())

	state := byName["energy_policy_state"].GetMetric()
	require.Equal(t, "signature-stable", state[0].GetLabel()[0].GetValue())
}
