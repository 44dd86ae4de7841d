package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
	"github.com/signalsfoundry/swarm-simulator/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestDefaultWorldIsBounded(t *testing.T) {
	w := core.NewWorld(Default().CoreWorld())
	tests := []struct {
		c    model.Coord
		want bool
	}{
		{model.Coord{}, true},
		{model.Coord{Q: 100}, true},
		{model.Coord{Q: 101}, false},
		{model.Coord{R: -101}, false},
		{model.Coord{Q: 1 << 20}, false},
	}
	for _, tc := range tests {
		if got := w.InBounds(tc.c); got != tc.want {
			t.Fatalf("InBounds(%v) = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
world:
  x_size: 20
  y_size: 10
  max_round: 250
  seed: 99
scenario:
  name: hexagon
  size: 4
solution: bottleneck
gossip:
  min_rounds: 60
  mobile: true
  removals:
    - round: 100
      count: 3
routing:
  algorithm: first_contact
  mobility: circle
  message_ttl: 40
pacing:
  mode: realtime
  tick: 50ms
output:
  results_db: out/runs.sqlite
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.World.XSize != 20 || cfg.World.MaxRound != 250 || cfg.World.Seed != 99 {
		t.Fatalf("world = %+v", cfg.World)
	}
	if cfg.Scenario.Name != "hexagon" || cfg.Scenario.Size != 4 || cfg.Solution != "bottleneck" {
		t.Fatalf("scenario/solution = %+v / %s", cfg.Scenario, cfg.Solution)
	}
	if cfg.Gossip.MinRounds != 60 || !cfg.Gossip.Mobile || len(cfg.Gossip.Removals) != 1 || cfg.Gossip.Removals[0].Count != 3 {
		t.Fatalf("gossip = %+v", cfg.Gossip)
	}
	if cfg.Gossip.AgingFactor != 0.1 {
		t.Fatalf("unset aging factor lost its default: %v", cfg.Gossip.AgingFactor)
	}
	if cfg.Pacing.Tick != 50*time.Millisecond {
		t.Fatalf("tick = %v", cfg.Pacing.Tick)
	}
	bc, err := cfg.BottleneckConfig()
	if err != nil {
		t.Fatalf("BottleneckConfig: %v", err)
	}
	if bc.Algorithm != oppnet.FirstContact || bc.Mobility != oppnet.MobilityCircle {
		t.Fatalf("bottleneck config = %+v", bc)
	}
	if len(cfg.NetworkOptions()) != 1 {
		t.Fatalf("network options = %d, want ttl only", len(cfg.NetworkOptions()))
	}
	if w := cfg.CoreWorld(); w.YSize != 10 || w.Seed != 99 {
		t.Fatalf("core world = %+v", w)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWARM_MAX_ROUND", "12")
	t.Setenv("SWARM_SEED", "7")
	t.Setenv("SWARM_SOLUTION", "scanning")
	t.Setenv("SWARM_PACING", "realtime")
	t.Setenv("SWARM_TICK", "250ms")
	t.Setenv("SWARM_X_SIZE", "30.5")
	t.Setenv("SWARM_SCAN_RADIUS", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.MaxRound != 12 || cfg.World.Seed != 7 || cfg.Solution != "scanning" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Pacing.Mode != "realtime" || cfg.Pacing.Tick != 250*time.Millisecond {
		t.Fatalf("pacing = %+v", cfg.Pacing)
	}
	if cfg.World.XSize != 30.5 || cfg.World.YSize != Default().World.YSize {
		t.Fatalf("world extent = %v x %v", cfg.World.XSize, cfg.World.YSize)
	}
	if cfg.Scanning.Radius != 2 {
		t.Fatalf("scan radius = %d, want 2", cfg.Scanning.Radius)
	}
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("SWARM_MAX_ROUND", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SWARM_MAX_ROUND") {
		t.Fatalf("expected SWARM_MAX_ROUND error, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.World.MaxRound = -1
	cfg.World.YSize = 0
	cfg.Scanning.Radius = -1
	cfg.Scenario.Name = "spiral"
	cfg.Solution = "flocking"
	cfg.Routing.Algorithm = "flooding"
	cfg.Logging.Level = "loud"
	cfg.Pacing.Mode = "warp"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate accepted an invalid config")
	}
	for _, want := range []string{"x_size", "max_round", "scenario", "solution", "routing", "scanning: radius", "logging", "pacing"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestScenarioFileSkipsNameCheck(t *testing.T) {
	cfg := Default()
	cfg.Scenario.Name = "not-registered"
	cfg.Scenario.File = "world.json"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
