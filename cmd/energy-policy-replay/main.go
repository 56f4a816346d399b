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
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intel/node-energy-policy/pkg/config"
	"github.com/intel/node-energy-policy/pkg/engine"
	logger "github.com/intel/node-energy-policy/pkg/log"
	"github.com/intel/node-energy-policy/pkg/metrics"
	"github.com/intel/node-energy-policy/pkg/pidfile"
	"github.com/intel/node-energy-policy/pkg/policy"
	"github.com/intel/node-energy-policy/pkg/policycollector"
	"github.com/intel/node-energy-policy/pkg/replay"
	"github.com/intel/node-energy-policy/pkg/report"
	"github.com/intel/node-energy-policy/pkg/version"

	_ "github.com/intel/node-energy-policy/pkg/policy/builtin/min-energy"
	_ "github.com/intel/node-energy-policy/pkg/policy/builtin/min-time"
	_ "github.com/intel/node-energy-policy/pkg/policy/builtin/monitoring"
)

var log = logger.Default()

func main() {
	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	if opt.describe {
		fmt.Println(config.Describe())
		os.Exit(0)
	}
	if opt.listPlugins {
		for _, p := range policy.AvailablePlugins() {
			fmt.Printf("%s: %s\n", p.Name, p.Description)
		}
		os.Exit(0)
	}

	if opt.configFile != "" {
		if err := config.SetConfigFromFile(opt.configFile); err != nil {
			log.Fatal("failed to load configuration %q: %v", opt.configFile, err)
		}
	}
	if opt.trace == "" {
		log.Fatal("no trace given, use -trace <file>")
	}

	var pid *pidfile.PIDFile
	if opt.pidFile != "" {
		pid = pidfile.New(opt.pidFile)
		if err := pid.Acquire(); err != nil {
			log.Fatal("failed to create PID file: %v", err)
		}
	}

	log.Info("energy-policy-replay %s", version.String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)

	if pid != nil {
		if err := pid.Release(); err != nil {
			log.Warn("failed to remove PID file: %v", err)
		}
	}
	if err != nil {
		log.Error("replay failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	trace, err := replay.LoadTrace(opt.trace)
	if err != nil {
		return err
	}

	n, err := newNode()
	if err != nil {
		return err
	}
	defer n.Close()

	pctx := n.ctx
	if err := loadModel(pctx); err != nil {
		return err
	}

	name := pctx.Options.Plugin
	if opt.plugin != "" {
		name = opt.plugin
	}
	plugin, err := policy.NewPlugin(name, pctx)
	if err != nil {
		return err
	}
	nodePolicy, err := policy.NewNode(pctx, plugin)
	if err != nil {
		return err
	}

	sinks, err := report.NewSinks()
	if err != nil {
		return err
	}
	defer sinks.Close()

	collector := policycollector.NewPolicyCollector(plugin.Name())
	if opt.metrics != "" {
		srv, err := serveMetrics(collector)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	source := replay.NewSource()
	eng, err := engine.New(engine.Config{
		Node:      nodePolicy,
		Context:   pctx,
		Source:    source,
		Actuator:  n.actuator,
		Sink:      sinks,
		Collector: collector,
		Processes: n.processes,
	})
	if err != nil {
		return err
	}

	log.Info("replaying %d loops, %d iterations with plugin %s",
		len(trace.Loops), trace.Iterations(), plugin.Name())

	if err := replay.NewPlayer(eng, source, time.Now()).Play(ctx, trace); err != nil {
		return err
	}

	log.Info("replay done, final state %s, frequencies %s", eng.State(), nodePolicy.Current())

	if opt.metrics != "" {
		log.Info("serving metrics on %s until interrupted", opt.metrics)
		<-ctx.Done()
	}

	return nil
}

func serveMetrics(collector *policycollector.PolicyCollector) (*http.Server, error) {
	if err := collector.RegisterPolicyMetricsCollector(); err != nil {
		return nil, err
	}
	if err := version.RegisterBuildInfoCollector(); err != nil {
		return nil, err
	}
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              opt.metrics,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed: %v", err)
		}
	}()

	return srv, nil
}
