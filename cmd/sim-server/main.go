package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/uav-delivery-sim/internal/config"
	"github.com/signalsfoundry/uav-delivery-sim/internal/diag"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"github.com/signalsfoundry/uav-delivery-sim/timectrl"
)

// Config holds the server's startup settings.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	ConfigPath     string
	ScenarioPath   string
	Nodes          int
	DBPath         string
	TickInterval   time.Duration
	Accelerated    bool
	AutoAdvance    bool
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the diagnostics gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&cfg.ScenarioPath, "scenario", "", "Path to a JSON scenario loaded at startup")
	flag.IntVar(&cfg.Nodes, "nodes", 0, "Number of nodes to scatter when no scenario is given")
	flag.StringVar(&cfg.DBPath, "db", "", "SQLite file holding recorded runs for GetOutcomes")
	flag.DurationVar(&cfg.TickInterval, "tick", 100*time.Millisecond, "Wall-clock interval between rounds in real-time mode")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "Run rounds back to back instead of pacing them")
	flag.BoolVar(&cfg.AutoAdvance, "auto-advance", true, "Advance rounds on a timer; when false only Advance RPCs step the simulation")
	flag.Parse()

	log := logging.NewFromEnv()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(context.Background(), "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

// run serves diagnostics on lis until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	simCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, simCfg.TracerConfig(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	diagMetrics, err := observability.NewDiagCollector(reg)
	if err != nil {
		return fmt.Errorf("diag metrics: %w", err)
	}
	macMetrics, err := observability.NewMACCollector(reg)
	if err != nil {
		return fmt.Errorf("mac metrics: %w", err)
	}
	routingMetrics, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return fmt.Errorf("routing metrics: %w", err)
	}

	s, err := sim.New(simCfg,
		sim.WithLogger(log),
		sim.WithScenarioMetrics(diagMetrics),
		sim.WithMACMetrics(macMetrics),
		sim.WithRoutingMetrics(routingMetrics),
	)
	if err != nil {
		return err
	}
	if err := loadScenario(ctx, s, cfg, log); err != nil {
		return err
	}

	var opts []diag.ServiceOption
	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, diag.WithStore(st))
	}

	server := diag.NewGRPCServer(diag.NewService(s, log, opts...), s.Clock(), log, diagMetrics)
	metricsSrv := serveMetrics(cfg.MetricsAddress, reg, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting diagnostics gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, net.ErrClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var ticking <-chan struct{}
	if cfg.AutoAdvance {
		mode := timectrl.RealTime
		if cfg.Accelerated {
			mode = timectrl.Accelerated
		}
		tc := timectrl.NewTimeController(cfg.TickInterval, mode)
		tc.AddListener(func(ctx context.Context, _ int) bool {
			s.Step(ctx)
			return true
		})
		ticking = tc.Start(ctx, 0)
		log.Info(ctx, "round loop started",
			logging.String("mode", mode.String()),
			logging.Duration("tick", cfg.TickInterval),
		)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = err
		}
	}

	log.Info(context.Background(), "shutting down diagnostics server")
	server.GracefulStop()
	if ticking != nil {
		<-ticking
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func loadScenario(ctx context.Context, s *sim.Simulator, cfg Config, log logging.Logger) error {
	if cfg.ScenarioPath != "" {
		f, err := os.Open(cfg.ScenarioPath)
		if err != nil {
			return fmt.Errorf("open scenario %q: %w", cfg.ScenarioPath, err)
		}
		defer f.Close()
		if _, err := s.LoadScenario(ctx, f); err != nil {
			if !errors.Is(err, sim.ErrNoRoutableDestination) {
				return fmt.Errorf("load scenario: %w", err)
			}
			log.Warn(ctx, "scenario request not routable", logging.String("error", err.Error()))
		}
		return nil
	}
	if cfg.Nodes > 0 {
		return s.ScatterNodes(cfg.Nodes)
	}
	return nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
