package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/internal/config"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"github.com/signalsfoundry/uav-delivery-sim/model"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "Batch runner for the UAV multicast delivery simulator",
		Long: `simulator places UAV nodes, schedules multicast delivery requests and
runs the pruned routing and MAC arbitration rounds until every packet is
delivered or dropped.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newValidateConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runOptions are the inputs of a single batch run.
type runOptions struct {
	ConfigPath   string
	ScenarioPath string
	Nodes        int
	Seed         int64
	Pairs        int
	DBPath       string
	JSON         bool
}

// runReport is what a batch run prints.
type runReport struct {
	RunID           string        `json:"run_id,omitempty"`
	Protocol        string        `json:"protocol"`
	Seed            int64         `json:"seed"`
	Nodes           int           `json:"nodes"`
	Rounds          int           `json:"rounds"`
	Completed       bool          `json:"completed"`
	Packets         int           `json:"packets"`
	Delivered       int           `json:"delivered"`
	Dropped         int           `json:"dropped"`
	InFlight        int           `json:"in_flight"`
	DeliveryRatio   float64       `json:"delivery_ratio"`
	MeanLatency     time.Duration `json:"mean_latency_ns"`
	MeanEnergy      float64       `json:"mean_energy"`
	Retransmissions int           `json:"retransmissions"`
	Unreachable     int           `json:"unreachable"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario to completion",
		Long: `Run a scenario to completion and print the delivery summary.

Nodes come from --scenario when given, otherwise --nodes nodes are scattered
over the reception area and --pairs random source/destination requests are
scheduled.

Examples:
  simulator run --scenario scenario.json
  simulator run --nodes 60 --pairs 10 --seed 7
  simulator run --config sim.yaml --db runs.db --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{}
			opts.ConfigPath, _ = cmd.Flags().GetString("config")
			opts.JSON, _ = cmd.Flags().GetBool("json")
			opts.ScenarioPath, _ = cmd.Flags().GetString("scenario")
			opts.Nodes, _ = cmd.Flags().GetInt("nodes")
			opts.Pairs, _ = cmd.Flags().GetInt("pairs")
			opts.DBPath, _ = cmd.Flags().GetString("db")
			if cmd.Flags().Changed("seed") {
				opts.Seed, _ = cmd.Flags().GetInt64("seed")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSimulation(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("scenario", "", "Path to a JSON scenario with nodes and requests")
	cmd.Flags().Int("nodes", 50, "Number of nodes to scatter when no scenario is given")
	cmd.Flags().Int64("seed", 0, "Override the configured random seed")
	cmd.Flags().Int("pairs", 5, "Number of random requests to schedule when no scenario is given")
	cmd.Flags().String("db", "", "SQLite file to record the run in")
	return cmd
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(path, 0)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: protocol=%s range=%.0fm eccentricity=%.2f seed=%d\n",
				cfg.Routing.Protocol, cfg.Radio.RangeM, cfg.Ellipse.Eccentricity, cfg.Seed)
			return nil
		},
	}
}

func loadConfig(path string, seed int64) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runSimulation builds a simulator from opts, runs it and writes the report
// to out.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	cfg, err := loadConfig(opts.ConfigPath, opts.Seed)
	if err != nil {
		return err
	}
	logCfg := cfg.LoggerConfig()
	logCfg.Output = os.Stderr
	log := logging.New(logCfg)

	shutdown, err := observability.InitTracing(ctx, cfg.TracerConfig(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	s, err := sim.New(cfg, sim.WithLogger(log))
	if err != nil {
		return err
	}

	report := runReport{Protocol: cfg.Routing.Protocol, Seed: cfg.Seed}
	if opts.ScenarioPath != "" {
		f, err := os.Open(opts.ScenarioPath)
		if err != nil {
			return fmt.Errorf("open scenario %q: %w", opts.ScenarioPath, err)
		}
		results, err := s.LoadScenario(ctx, f)
		f.Close()
		if err != nil && !errors.Is(err, sim.ErrNoRoutableDestination) {
			return fmt.Errorf("load scenario: %w", err)
		}
		for _, res := range results {
			report.Unreachable += len(res.Unreachable)
		}
	} else {
		if err := s.ScatterNodes(opts.Nodes); err != nil {
			return err
		}
		report.Unreachable = scheduleRandomPairs(ctx, s, log, opts.Nodes, opts.Pairs, cfg.Seed)
	}
	report.Nodes = len(s.Snapshot().Nodes)

	var outcomes *store.OutcomeStore
	if opts.DBPath != "" {
		outcomes, err = store.Open(opts.DBPath)
		if err != nil {
			return err
		}
		defer outcomes.Close()
		report.RunID, err = outcomes.BeginRun(ctx, cfg.Routing.Protocol, cfg.Seed, report.Nodes)
		if err != nil {
			return err
		}
	}

	res, err := s.Run(ctx)
	if err != nil {
		return err
	}
	report.Rounds = res.Rounds
	report.Completed = res.Completed

	results := s.Outcomes()
	if outcomes != nil {
		if err := outcomes.FinishRun(ctx, report.RunID, res.Rounds, res.Completed, results); err != nil {
			return err
		}
	}
	fillSummary(&report, results)

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

// scheduleRandomPairs draws distinct source/destination pairs from the seed
// and returns how many destinations could not be routed.
func scheduleRandomPairs(ctx context.Context, s *sim.Simulator, log logging.Logger, nodes, pairs int, seed int64) int {
	if nodes < 2 {
		return 0
	}
	rng := rand.New(rand.NewSource(seed))
	unreachable := 0
	for i := 0; i < pairs; i++ {
		src := model.NodeID(rng.Intn(nodes) + 1)
		dst := model.NodeID(rng.Intn(nodes-1) + 1)
		if dst >= src {
			dst++
		}
		res, err := s.Schedule(ctx, src, []model.NodeID{dst})
		if res != nil {
			unreachable += len(res.Unreachable)
		}
		if err != nil && !errors.Is(err, sim.ErrNoRoutableDestination) {
			log.Warn(ctx, "schedule failed",
				logging.Int("source", int(src)),
				logging.Int("destination", int(dst)),
				logging.String("error", err.Error()),
			)
		}
	}
	return unreachable
}

func fillSummary(r *runReport, outcomes []model.Outcome) {
	var latency time.Duration
	var energy float64
	for _, o := range outcomes {
		r.Packets++
		r.Retransmissions += o.Retransmissions
		energy += o.Energy
		switch o.Status {
		case model.PacketDelivered:
			r.Delivered++
			latency += o.Latency
		case model.PacketDropped:
			r.Dropped++
		default:
			r.InFlight++
		}
	}
	if r.Packets > 0 {
		r.DeliveryRatio = float64(r.Delivered) / float64(r.Packets)
		r.MeanEnergy = energy / float64(r.Packets)
	}
	if r.Delivered > 0 {
		r.MeanLatency = latency / time.Duration(r.Delivered)
	}
}

func printReport(out io.Writer, r runReport) {
	if r.RunID != "" {
		fmt.Fprintf(out, "Run %s\n", r.RunID)
	}
	fmt.Fprintf(out, "Protocol %s, seed %d, %d nodes\n", r.Protocol, r.Seed, r.Nodes)
	fmt.Fprintf(out, "Rounds: %d (completed=%v)\n", r.Rounds, r.Completed)
	fmt.Fprintf(out, "Packets: %d delivered=%d dropped=%d in_flight=%d unreachable=%d\n",
		r.Packets, r.Delivered, r.Dropped, r.InFlight, r.Unreachable)
	fmt.Fprintf(out, "Delivery ratio: %.3f\n", r.DeliveryRatio)
	fmt.Fprintf(out, "Mean latency: %s\n", r.MeanLatency)
	fmt.Fprintf(out, "Mean energy: %.3f\n", r.MeanEnergy)
	fmt.Fprintf(out, "Retransmissions: %d\n", r.Retransmissions)
}
