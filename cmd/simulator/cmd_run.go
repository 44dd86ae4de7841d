package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/config"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/internal/observability"
	"github.com/signalsfoundry/swarm-simulator/internal/observer"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
	"github.com/signalsfoundry/swarm-simulator/internal/persistence/resultsdb"
	"github.com/signalsfoundry/swarm-simulator/internal/persistence/tracelog"
	"github.com/signalsfoundry/swarm-simulator/internal/scenario"
	"github.com/signalsfoundry/swarm-simulator/internal/solution"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/bottleneck"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/gossip"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/scanning"
	"github.com/signalsfoundry/swarm-simulator/internal/stats"
	"github.com/signalsfoundry/swarm-simulator/timectrl"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run loads the configuration (defaults, then --config, then SWARM_*
environment variables, then the flags below), builds the scenario and the
solution and steps the engine until the solution ends the run or max_round is
reached. Interrupting the process stops the run between rounds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cmd.ErrOrStderr()})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

			ctx = logging.ContextWithLogger(ctx, log)
			res, runErr := runSimulation(ctx, cfg, runEnv{})
			if res != nil {
				jsonOut, _ := cmd.Flags().GetBool("json")
				if err := printResult(cmd, res, jsonOut); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.String("scenario", "", "built-in scenario name")
	f.String("scenario-file", "", "JSON scenario file (overrides --scenario)")
	f.Int("size", 0, "size parameter of parametric scenarios")
	f.String("solution", "", "solution name")
	f.Int("scan-radius", 0, "hop radius of the scanning solution (0 uses the default)")
	f.Int("max-round", 0, "last round to run (0 runs until the solution ends it)")
	f.Uint64("seed", 0, "random seed")
	f.String("pacing", "", "round pacing: accelerated or realtime")
	f.Duration("tick", 0, "wall-clock time per round in realtime pacing")
	f.String("metrics-addr", "", "serve Prometheus /metrics on this address")
	f.String("observer-addr", "", "serve the WebSocket observer stream on this address")
	f.String("results-db", "", "SQLite database receiving run results")
	f.String("trace-file", "", "zstd JSONL file receiving one entry per round")
	f.String("log-level", "", "debug, info, warn or error")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// applyRunFlags copies explicitly set flags over cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("scenario", &cfg.Scenario.Name)
	str("scenario-file", &cfg.Scenario.File)
	num("size", &cfg.Scenario.Size)
	str("solution", &cfg.Solution)
	num("scan-radius", &cfg.Scanning.Radius)
	num("max-round", &cfg.World.MaxRound)
	if f.Changed("seed") {
		v, err := f.GetUint64("seed")
		errs = append(errs, err)
		cfg.World.Seed = v
	}
	str("pacing", &cfg.Pacing.Mode)
	if f.Changed("tick") {
		v, err := f.GetDuration("tick")
		errs = append(errs, err)
		cfg.Pacing.Tick = v
	}
	str("metrics-addr", &cfg.Metrics.Addr)
	str("observer-addr", &cfg.Observer.Addr)
	str("results-db", &cfg.Output.ResultsDB)
	str("trace-file", &cfg.Output.TraceFile)
	str("log-level", &cfg.Logging.Level)
	return errors.Join(errs...)
}

var scanNames = []string{scanning.ScanMatters, scanning.ScanParticles, scanning.ScanTiles, scanning.ScanMarkers}

// runEnv carries the process-level dependencies of a run that are not
// carried by the context.
type runEnv struct {
	Registerer prometheus.Registerer // nil uses a fresh registry
}

// runResult is what a finished run reports back to the CLI.
type runResult struct {
	RunID     string            `json:"run_id"`
	Scenario  string            `json:"scenario"`
	Solution  string            `json:"solution"`
	Rounds    int               `json:"rounds"`
	Particles int               `json:"particles"`
	Aborted   bool              `json:"aborted"`
	Error     string            `json:"error,omitempty"`
	Gossip    *stats.RunSummary `json:"gossip,omitempty"`
	Network   *oppnet.Stats     `json:"network,omitempty"`
	Scans     map[string]int    `json:"scans,omitempty"`
}

// runSimulation wires one run from cfg: scenario, solution, engine, pacing
// and every configured sink. The logger comes from ctx and the run id too
// when ctx already carries one. It returns a result whenever the engine was
// set up, together with the error that ended the run, if any.
func runSimulation(ctx context.Context, cfg *config.Config, env runEnv) (*runResult, error) {
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = logging.Noop()
	}
	ctx, log = logging.WithRunLogger(ctx, log)
	ctx = logging.ContextWithLogger(ctx, log)
	runID, err := uuid.Parse(logging.RunIDFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	reg := env.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	worldCfg := cfg.CoreWorld()
	scn, scenarioName, err := buildScenario(cfg, &worldCfg)
	if err != nil {
		return nil, err
	}
	world := core.NewWorld(worldCfg, core.WithWorldLogger(log))

	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}

	history := stats.NewHistory()
	bc, err := cfg.BottleneckConfig()
	if err != nil {
		return nil, err
	}
	sol, err := solution.New(cfg.Solution, solution.Options{
		Gossip:         cfg.Gossip,
		GossipOptions:  []gossip.Option{gossip.WithRecorder(collector), gossip.WithHistory(history)},
		Bottleneck:     bc,
		NetworkOptions: append(cfg.NetworkOptions(), oppnet.WithRecorder(collector)),
		ScanRadius:     cfg.Scanning.Radius,
	})
	if err != nil {
		return nil, err
	}

	engine := core.NewSimulationEngine(world, sol,
		core.WithEngineLogger(log),
		core.WithRoundRecorder(collector),
		core.WithTracer(otel.Tracer("github.com/signalsfoundry/swarm-simulator/cmd/simulator")),
		core.WithRunID(runID),
	)

	var servers []*http.Server
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		servers = append(servers, serveHTTP(ctx, "metrics", cfg.Metrics.Addr, mux, log))
	}
	var hub *observer.Hub
	if cfg.Observer.Addr != "" {
		hub = observer.NewHub(log)
		mux := http.NewServeMux()
		mux.Handle("/ws", hub.WSHandler())
		servers = append(servers, serveHTTP(ctx, "observer", cfg.Observer.Addr, mux, log))
	}

	var db *resultsdb.DB
	if cfg.Output.ResultsDB != "" {
		if db, err = resultsdb.Open(cfg.Output.ResultsDB); err != nil {
			return nil, err
		}
		defer db.Close()
		if err := db.BeginRun(ctx, resultsdb.RunRecord{
			ID:        runID.String(),
			Scenario:  scenarioName,
			Solution:  cfg.Solution,
			Seed:      worldCfg.Seed,
			MaxRound:  worldCfg.MaxRound,
			StartedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}

	var trace *tracelog.Writer
	if cfg.Output.TraceFile != "" {
		if trace, err = tracelog.Create(cfg.Output.TraceFile); err != nil {
			return nil, err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				log.Warn(ctx, "closing trace file", logging.Err(err))
			}
		}()
	}

	mode, err := timectrl.ParseMode(cfg.Pacing.Mode)
	if err != nil {
		return nil, err
	}
	tc := timectrl.NewTimeController(cfg.Pacing.Tick, mode)
	tc.AddListener(func(round int) {
		var rs *stats.RoundSummary
		if last, ok := history.Last(); ok && last.Round == round {
			rs = &last
		}
		snap := world.Snapshot()
		if trace != nil {
			if err := trace.Write(tracelog.Entry{RunID: runID.String(), Snapshot: snap, Stats: rs}); err != nil {
				log.Warn(ctx, "trace write failed", logging.Int("round", round), logging.Err(err))
			}
		}
		if db != nil && rs != nil {
			if err := db.RecordRound(ctx, runID.String(), *rs); err != nil {
				log.Warn(ctx, "round stats not stored", logging.Int("round", round), logging.Err(err))
			}
		}
		if hub != nil {
			if err := hub.Publish(observer.Frame{Type: observer.FrameRound, RunID: runID.String(), Snapshot: snap, Stats: rs}); err != nil {
				log.Warn(ctx, "observer publish failed", logging.Err(err))
			}
		}
	})

	if err := engine.Setup(ctx, scn); err != nil {
		if db != nil {
			_ = db.FinishRun(context.Background(), runID.String(), 0, err, nil)
		}
		return nil, err
	}

	log.Info(ctx, "starting simulation",
		logging.String("scenario", scenarioName),
		logging.String("solution", cfg.Solution),
		logging.Int("max_round", worldCfg.MaxRound),
		logging.String("pacing", mode.String()),
	)
	runErr := tc.Run(ctx, engine.Step)
	log.Info(ctx, "simulation finished",
		logging.Int("rounds_committed", tc.Round()),
		logging.Bool("aborted", runErr != nil),
	)

	res := &runResult{
		RunID:     runID.String(),
		Scenario:  scenarioName,
		Solution:  cfg.Solution,
		Rounds:    world.ActualRound(),
		Particles: world.ParticleCount(),
		Aborted:   runErr != nil,
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	switch s := sol.(type) {
	case *gossip.Protocol:
		if sum, ok := s.Summary(); ok {
			res.Gossip = &sum
		}
	case *bottleneck.Solution:
		if n := s.Network(); n != nil {
			st := n.Stats()
			res.Network = &st
		}
	case *scanning.Solution:
		res.Scans = make(map[string]int, len(scanNames))
		for _, name := range scanNames {
			res.Scans[name] = len(s.Results(name))
		}
	}

	if hub != nil {
		_ = hub.Publish(observer.Frame{Type: observer.FrameEnd, RunID: runID.String(), Snapshot: world.Snapshot()})
	}
	if db != nil {
		var summary any
		switch {
		case res.Gossip != nil:
			summary = res.Gossip
		case res.Network != nil:
			summary = res.Network
		case res.Scans != nil:
			summary = res.Scans
		}
		if err := db.FinishRun(context.Background(), runID.String(), res.Rounds, runErr, summary); err != nil {
			log.Warn(ctx, "run result not stored", logging.Err(err))
		}
	}
	return res, runErr
}

// buildScenario resolves the scenario file or the registered name. World
// settings present in a scenario file override worldCfg field by field.
func buildScenario(cfg *config.Config, worldCfg *core.WorldConfig) (core.Scenario, string, error) {
	if cfg.Scenario.File == "" {
		scn, err := scenario.Lookup(cfg.Scenario.Name, scenario.Params{Size: cfg.Scenario.Size})
		return scn, cfg.Scenario.Name, err
	}
	f, err := os.Open(cfg.Scenario.File)
	if err != nil {
		return nil, "", fmt.Errorf("open scenario file: %w", err)
	}
	defer f.Close()
	sf, err := core.LoadScenarioFile(f)
	if err != nil {
		return nil, "", err
	}
	if w := sf.World; w != nil {
		if w.XSize != 0 {
			worldCfg.XSize = w.XSize
		}
		if w.YSize != 0 {
			worldCfg.YSize = w.YSize
		}
		if w.MaxRound != 0 {
			worldCfg.MaxRound = w.MaxRound
		}
		if w.Seed != 0 {
			worldCfg.Seed = w.Seed
		}
	}
	return sf, cfg.Scenario.File, nil
}

func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(ctx, name+" server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving "+name, logging.String("addr", addr))
	return srv
}

func printResult(cmd *cobra.Command, res *runResult, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "run %s: %s/%s, %d rounds, %d particles\n", res.RunID, res.Scenario, res.Solution, res.Rounds, res.Particles)
	if res.Aborted {
		fmt.Fprintf(out, "  aborted: %s\n", res.Error)
	}
	if g := res.Gossip; g != nil {
		fmt.Fprintf(out, "  mean estimate %.2f (deviation %.2f%%), min/max all time %.0f/%.0f, %d exchanges\n",
			g.MeanEstimate, g.RelativeDeviation, g.MinAllTime, g.MaxAllTime, g.Exchanges)
	}
	if n := res.Network; n != nil {
		fmt.Fprintf(out, "  messages: %d generated, %d delivered, %d forwarded, %d expired, %d dropped, mean latency %.1f rounds\n",
			n.Generated, n.Delivered, n.Forwarded, n.Expired, n.Dropped, n.MeanLatency())
	}
	for _, name := range scanNames {
		if n, ok := res.Scans[name]; ok {
			fmt.Fprintf(out, "  scan %-10s %d\n", name, n)
		}
	}
	return nil
}
