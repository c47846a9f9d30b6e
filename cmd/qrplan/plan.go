package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/qrnes"
)

var (
	configFile   string        // YAML or JSON file holding a PlanConfig
	output       string        // Topology output file
	stop         float64       // Stop time (in s)
	parallel     []string      // ip,port,procs,sync,lookahead
	nodesCSV     string        // CSV assigning routers to groups
	totalFlows   int           // Flows to distribute
	attach       int           // Links each generated router brings
	annealBudget float64       // Seconds the automatic cooling schedule may take
	annealSteps  int           // Fixed annealing step count
	metricsFile  string        // Prometheus text output
	planDefaults = qrnes.DefaultPlanConfig()
)

// planCmd generates, partitions and plans a network and writes its description
var planCmd = &cobra.Command{
	Use:   "plan <net_size> <seed> <group_n> <alpha> <memo_size> <qc_length> <qc_atten> <cc_delay>",
	Short: "Generate a router network, plan its flows and write the topology",
	Args: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(8)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := buildPlanConfig(cmd, args)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}

		var assignments []qrnes.NodeGroup
		if cfg.NodesCSV != "" {
			assignments, err = qrnes.ReadNodeGroupsCSV(cfg.NodesCSV)
			if err != nil {
				logrus.Fatalf("Reading node groups: %v", err)
			}
		}

		var metrics *qrnes.Metrics
		if metricsFile != "" {
			metrics = qrnes.NewMetrics()
		}
		po, err := qrnes.Plan(cfg, assignments, metrics)
		if err != nil {
			logrus.Fatalf("Planning failed: %v", err)
		}
		if err := po.Write(cfg.Output); err != nil {
			logrus.Fatalf("%v", err)
		}
		if metrics != nil {
			if err := metrics.WriteToFile(metricsFile); err != nil {
				logrus.Fatalf("Writing metrics: %v", err)
			}
		}
	},
}

// buildPlanConfig assembles the configuration from the config file or the positional
// arguments, then applies the flags the user set
func buildPlanConfig(cmd *cobra.Command, args []string) (*qrnes.PlanConfig, error) {
	var cfg *qrnes.PlanConfig
	if configFile != "" {
		var err error
		cfg, err = qrnes.ReadPlanConfig(configFile, isYAMLName(configFile), nil)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		cfg, err = parsePlanArgs(args)
		if err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if configFile == "" || flags.Changed("output") {
		cfg.Output = output
	}
	if configFile == "" || flags.Changed("stop") {
		cfg.Stop = stop
	}
	if flags.Changed("parallel") {
		pc, err := parseParallel(parallel)
		if err != nil {
			return nil, err
		}
		cfg.Parallel = pc
	}
	if flags.Changed("nodes") {
		cfg.NodesCSV = nodesCSV
	}
	if flags.Changed("flows") {
		cfg.TotalFlows = totalFlows
	}
	if configFile == "" || flags.Changed("attach") {
		cfg.Attach = attach
	}
	if configFile == "" || flags.Changed("anneal-budget") {
		cfg.AnnealSeconds = annealBudget
	}
	if flags.Changed("anneal-steps") {
		cfg.AnnealSteps = annealSteps
	}
	return cfg, nil
}

// parsePlanArgs reads the eight positional arguments of the plan command
func parsePlanArgs(args []string) (*qrnes.PlanConfig, error) {
	if len(args) != 8 {
		return nil, fmt.Errorf("expected 8 arguments, got %d", len(args))
	}
	cfg := qrnes.DefaultPlanConfig()
	var err error
	ints := []struct {
		name string
		dst  *int
		arg  string
	}{
		{"net_size", &cfg.NetSize, args[0]},
		{"group_n", &cfg.Groups, args[2]},
		{"memo_size", &cfg.MemoSize, args[4]},
	}
	for _, iv := range ints {
		if *iv.dst, err = strconv.Atoi(iv.arg); err != nil {
			return nil, fmt.Errorf("%s: %w", iv.name, err)
		}
	}
	if cfg.Seed, err = strconv.ParseInt(args[1], 10, 64); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	floats := []struct {
		name string
		dst  *float64
		arg  string
	}{
		{"alpha", &cfg.Alpha, args[3]},
		{"qc_length", &cfg.QCLength, args[5]},
		{"qc_atten", &cfg.QCAtten, args[6]},
		{"cc_delay", &cfg.CCDelay, args[7]},
	}
	for _, fv := range floats {
		if *fv.dst, err = strconv.ParseFloat(fv.arg, 64); err != nil {
			return nil, fmt.Errorf("%s: %w", fv.name, err)
		}
	}
	return &cfg, nil
}

// parseParallel reads the five parallel values: server ip, server port, number of
// processes, "true" for synchronous groups, and lookahead
func parseParallel(values []string) (*qrnes.ParallelCfg, error) {
	if len(values) != 5 {
		return nil, fmt.Errorf("parallel takes ip,port,procs,sync,lookahead, got %d values", len(values))
	}
	pc := &qrnes.ParallelCfg{IP: strings.TrimSpace(values[0])}
	var err error
	if pc.Port, err = strconv.Atoi(strings.TrimSpace(values[1])); err != nil {
		return nil, fmt.Errorf("parallel port: %w", err)
	}
	if pc.ProcNum, err = strconv.Atoi(strings.TrimSpace(values[2])); err != nil {
		return nil, fmt.Errorf("parallel process count: %w", err)
	}
	mode := strings.ToLower(strings.TrimSpace(values[3]))
	pc.Sync = mode == "true" || mode == "sync"
	if pc.Lookahead, err = strconv.Atoi(strings.TrimSpace(values[4])); err != nil {
		return nil, fmt.Errorf("parallel lookahead: %w", err)
	}
	return pc, nil
}

func isYAMLName(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") ||
		strings.HasSuffix(filename, ".YAML")
}

func init() {
	planCmd.Flags().StringVar(&configFile, "config", "", "YAML or JSON file holding the planning parameters")
	planCmd.Flags().StringVarP(&output, "output", "o", planDefaults.Output, "Name of output config file")
	planCmd.Flags().Float64VarP(&stop, "stop", "s", 0, "Stop time (in s), 0 for no limit")
	planCmd.Flags().StringSliceVarP(&parallel, "parallel", "p", nil, "Parallel arguments: server ip,server port,num. processes,sync,lookahead")
	planCmd.Flags().StringVarP(&nodesCSV, "nodes", "n", "", "Path to csv file giving the group of each router")
	planCmd.Flags().IntVar(&totalFlows, "flows", 0, "Number of flows to distribute, 0 for one per router")
	planCmd.Flags().IntVar(&attach, "attach", planDefaults.Attach, "Links each generated router attaches with")
	planCmd.Flags().Float64Var(&annealBudget, "anneal-budget", planDefaults.AnnealSeconds, "Seconds the tuned annealing schedule may take")
	planCmd.Flags().IntVar(&annealSteps, "anneal-steps", 0, "Fixed number of annealing steps, 0 to tune the schedule")
	planCmd.Flags().StringVar(&metricsFile, "metrics", "", "Write planning metrics in Prometheus text format to this file")
}
