package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/swarm-simulator/internal/config"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
	"github.com/signalsfoundry/swarm-simulator/internal/persistence/resultsdb"
	"github.com/signalsfoundry/swarm-simulator/internal/persistence/tracelog"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/gossip"
	"github.com/signalsfoundry/swarm-simulator/kb"
)

const lineScenario = `{
  "world": { "max_round": 5, "seed": 3 },
  "particles": [
    { "x": 0, "y": 0, "color": "black" },
    { "x": 1, "y": 0, "color": "black" },
    { "x": 2, "y": 0, "color": "black" }
  ],
  "tiles": [
    { "x": 0.5, "y": 1, "color": "gray" }
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunSimulationGossipWithSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Scenario.Name = "wheel"
	cfg.World.MaxRound = 100
	cfg.Output.ResultsDB = filepath.Join(dir, "runs.sqlite")
	cfg.Output.TraceFile = filepath.Join(dir, "run.jsonl.zst")
	reg := prometheus.NewRegistry()

	res, err := runSimulation(context.Background(), cfg, runEnv{Registerer: reg})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	if res.Rounds != 100 || res.Particles != 7 || res.Aborted {
		t.Fatalf("result = %+v", res)
	}
	if res.Gossip == nil || res.Gossip.MeanEstimate < 6 || res.Gossip.MeanEstimate > 8 {
		t.Fatalf("gossip summary = %+v", res.Gossip)
	}

	entries, err := tracelog.ReadAll(cfg.Output.TraceFile)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 100 || entries[99].Stats == nil || entries[0].RunID != res.RunID {
		t.Fatalf("trace has %d entries", len(entries))
	}

	db, err := resultsdb.Open(cfg.Output.ResultsDB)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	run, err := db.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != resultsdb.StatusCompleted || run.Rounds != 100 || run.Scenario != "wheel" {
		t.Fatalf("run record = %+v", run)
	}
	rounds, err := db.ListRounds(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(rounds) != 100 {
		t.Fatalf("stored %d rounds, want 100", len(rounds))
	}

	if n, err := testutil.GatherAndCount(reg, "swarm_rounds_total", "swarm_gossip_exchanges_total"); err != nil || n != 2 {
		t.Fatalf("GatherAndCount = %d, %v", n, err)
	}
}

func TestRunSimulationBottleneck(t *testing.T) {
	cfg := testConfig(t)
	cfg.Solution = "bottleneck"
	cfg.Scenario.Name = "hexagon"
	cfg.Scenario.Size = 2
	cfg.World.MaxRound = 30
	cfg.Routing.Mobility = oppnet.MobilityStatic.String()

	res, err := runSimulation(context.Background(), cfg, runEnv{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	if res.Network == nil || res.Network.Generated != 20 || res.Network.Delivered == 0 {
		t.Fatalf("network stats = %+v", res.Network)
	}
	if res.Gossip != nil {
		t.Fatalf("bottleneck run reported gossip summary")
	}
}

func TestRunSimulationScanning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Solution = "scanning"
	cfg.Scenario.Name = "ring"
	cfg.World.MaxRound = 3

	res, err := runSimulation(context.Background(), cfg, runEnv{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	want := map[string]int{"matters": 37, "particles": 7, "tiles": 12, "markers": 18}
	for name, n := range want {
		if res.Scans[name] != n {
			t.Fatalf("scan %s = %d, want %d", name, res.Scans[name], n)
		}
	}
}

func TestRunSimulationScanRadiusFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Solution = "scanning"
	cfg.Scenario.Name = "ring"
	cfg.Scanning.Radius = 2
	cfg.World.MaxRound = 3

	res, err := runSimulation(context.Background(), cfg, runEnv{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	want := map[string]int{"matters": 19, "particles": 7, "tiles": 12, "markers": 0}
	for name, n := range want {
		if res.Scans[name] != n {
			t.Fatalf("scan %s = %d, want %d", name, res.Scans[name], n)
		}
	}
}

func TestRunSimulationLogsCarryRunID(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario.Name = "wheel"
	cfg.World.MaxRound = 3

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "json", Output: &buf})
	runID := uuid.NewString()
	ctx := logging.ContextWithRunID(logging.ContextWithLogger(context.Background(), log), runID)

	res, err := runSimulation(ctx, cfg, runEnv{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	if res.RunID != runID {
		t.Fatalf("run id = %s, want the one on the context %s", res.RunID, runID)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected run logs, got %q", buf.String())
	}
	var finished bool
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if rec["run_id"] != runID {
			t.Fatalf("log line without run_id: %s", line)
		}
		if rec["msg"] == "simulation finished" {
			finished = true
			if rec["rounds_committed"] != float64(res.Rounds) {
				t.Fatalf("rounds_committed = %v, want %d", rec["rounds_committed"], res.Rounds)
			}
		}
	}
	if !finished {
		t.Fatalf("no simulation finished line in %q", buf.String())
	}
}

func TestRunSimulationRejectsParticlesOutsideWorld(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario.Name = "line"
	cfg.Scenario.Size = 5
	cfg.World.XSize = 2

	if res, err := runSimulation(context.Background(), cfg, runEnv{}); !errors.Is(err, kb.ErrOutOfBounds) || res != nil {
		t.Fatalf("expected ErrOutOfBounds, got %+v, %v", res, err)
	}
}

func TestRunSimulationScenarioFileOverridesWorld(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario.File = writeScenario(t, lineScenario)
	cfg.World.MaxRound = 500

	res, err := runSimulation(context.Background(), cfg, runEnv{})
	if err != nil {
		t.Fatalf("runSimulation: %v", err)
	}
	if res.Rounds != 5 || res.Particles != 3 {
		t.Fatalf("result = %+v, want file max_round 5 and 3 particles", res)
	}
}

func TestRunSimulationAbortRecordsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario.Name = "wheel"
	cfg.Gossip.MasterID = 99
	cfg.Output.ResultsDB = filepath.Join(t.TempDir(), "runs.sqlite")

	res, err := runSimulation(context.Background(), cfg, runEnv{})
	if !errors.Is(err, gossip.ErrUnknownMaster) {
		t.Fatalf("expected ErrUnknownMaster, got %v", err)
	}
	if res == nil || !res.Aborted || res.Rounds != 1 {
		t.Fatalf("result = %+v", res)
	}

	db, err := resultsdb.Open(cfg.Output.ResultsDB)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	run, err := db.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != resultsdb.StatusFailed || !strings.Contains(run.Error, "master") {
		t.Fatalf("run record = %+v", run)
	}
}

func TestRunSimulationUnknownScenario(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenario.Name = "spiral"
	if res, err := runSimulation(context.Background(), cfg, runEnv{}); err == nil || res != nil {
		t.Fatalf("expected setup error, got %+v, %v", res, err)
	}
}

func TestRunCommandJSON(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "run.jsonl.zst")
	out, err := execute(t, "run", "--json", "--scenario", "wheel", "--max-round", "20", "--log-level", "error", "--trace-file", trace)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res runResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out)
	}
	if res.Rounds != 20 || res.Solution != "gossip" {
		t.Fatalf("result = %+v", res)
	}

	out, err = execute(t, "trace", "--every", "10", trace)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if !strings.Contains(out, "round    10") || !strings.Contains(out, "round    20") || !strings.Contains(out, "20 rounds in") {
		t.Fatalf("trace output:\n%s", out)
	}
	if strings.Contains(out, "round     5") {
		t.Fatalf("--every 10 printed round 5:\n%s", out)
	}
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	if _, err := execute(t, "run", "--pacing", "warp"); err == nil || !strings.Contains(err.Error(), "pacing") {
		t.Fatalf("expected pacing error, got %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeScenario(t, lineScenario)
	out, err := execute(t, "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "configuration ok") || !strings.Contains(out, "(4 entities)") {
		t.Fatalf("validate output:\n%s", out)
	}

	bad := writeScenario(t, `{"particles": [{"x": 0.25, "y": 0}]}`)
	if _, err := execute(t, "validate", bad); err == nil {
		t.Fatalf("validate accepted a scenario off the lattice")
	}
}

func TestCatalogCommands(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"scenarios"}, []string{"ring18", "wheel", "hexagon", "random"}},
		{[]string{"solutions"}, []string{"gossip", "scanning", "bottleneck"}},
		{[]string{"version"}, []string{"simulator version " + version}},
		{[]string{"version", "--json"}, []string{`"version"`}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("%v: %v", tt.args, err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Fatalf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{"--seed", "42", "--size", "4", "--tick", "20ms", "--solution", "scanning", "--scan-radius", "3"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	cfg := config.Default()
	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatalf("applyRunFlags: %v", err)
	}
	if cfg.World.Seed != 42 || cfg.Scenario.Size != 4 || cfg.Solution != "scanning" || cfg.Pacing.Tick.Milliseconds() != 20 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scanning.Radius != 3 {
		t.Fatalf("scan radius = %d, want 3", cfg.Scanning.Radius)
	}
	if cfg.World.MaxRound != config.Default().World.MaxRound {
		t.Fatalf("unset flag changed max_round to %d", cfg.World.MaxRound)
	}
}
