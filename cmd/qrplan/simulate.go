package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/qrnes"
)

var (
	simDefaults = qrnes.DefaultSimConfig()
	linkProb    float64 // Chance of entanglement with each neighbour
	simSeed     int64   // Seed for request start times
	traceFile   string  // Hop trace output
	maxHops     int     // Hops before a request is dropped
	simMetrics  string  // Prometheus text output
)

// simulateCmd routes one request per planned flow over a planned topology
var simulateCmd = &cobra.Command{
	Use:   "simulate <topology> <flow-manifest>",
	Short: "Route one request per planned flow through the event-driven harness",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := qrnes.SimConfig{LinkProb: linkProb, Seed: simSeed, MaxHops: maxHops, Trace: traceFile}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		tc, err := qrnes.ReadTopoCfg(args[0], isYAMLName(args[0]), nil)
		if err != nil {
			logrus.Fatalf("Reading topology: %v", err)
		}
		fm, err := qrnes.ReadFlowManifest(args[1], isYAMLName(args[1]), nil)
		if err != nil {
			logrus.Fatalf("Reading flow manifest: %v", err)
		}

		var metrics *qrnes.Metrics
		if simMetrics != "" {
			metrics = qrnes.NewMetrics()
		}
		h, err := qrnes.CreateHarness(tc, fm, cfg, metrics)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		report, err := h.RunFlows(fm)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("delivered %d of %d requests", report.Delivered, report.Injected)

		if traceFile != "" {
			if err := h.Trace().WriteToFile(traceFile, true); err != nil {
				logrus.Fatalf("Writing trace: %v", err)
			}
		}
		if metrics != nil {
			if err := metrics.WriteToFile(simMetrics); err != nil {
				logrus.Fatalf("Writing metrics: %v", err)
			}
		}
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&linkProb, "link-prob", simDefaults.LinkProb, "Probability a router is entangled with each neighbour at a routing decision")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Seed for request start times")
	simulateCmd.Flags().StringVar(&traceFile, "trace", "", "Write hop traces to this file (json or yaml)")
	simulateCmd.Flags().IntVar(&maxHops, "max-hops", simDefaults.MaxHops, "Hops before a request is dropped")
	simulateCmd.Flags().StringVar(&simMetrics, "metrics", "", "Write routing metrics in Prometheus text format to this file")
}
