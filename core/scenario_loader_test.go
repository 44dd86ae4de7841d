// core/scenario_loader_test.go
package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/swarm-simulator/model"
)

func TestLoadScenarioFile_PopulatesWorld(t *testing.T) {
	jsonData := `
{
  "world": { "x_size": 10, "y_size": 10, "max_round": 50, "seed": 7 },
  "particles": [
    { "x": 0, "y": 0, "color": "red" },
    { "x": 1, "y": 0, "color": 1 },
    { "x": 0.5, "y": 1 }
  ],
  "tiles": [
    { "x": 2, "y": 0, "color": "gray" }
  ],
  "markers": [
    { "x": -1.5, "y": -1, "color": "violett" }
  ]
}
`
	sc, err := LoadScenarioFile(strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("LoadScenarioFile returned error: %v", err)
	}
	if sc.World == nil || sc.World.MaxRound != 50 || sc.World.Seed != 7 {
		t.Fatalf("world config = %+v", sc.World)
	}

	w := NewWorld(*sc.World)
	if err := sc.Populate(context.Background(), w); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if got := w.ParticleCount(); got != 3 {
		t.Fatalf("particles = %d, want 3", got)
	}
	p, ok := w.ParticleAt(model.Coord{Q: 0, R: 1})
	if !ok {
		t.Fatalf("expected particle at (0.5, 1)")
	}
	if p.Color() != model.Black {
		t.Errorf("default colour = %v, want black", p.Color())
	}
	if red, _ := w.ParticleAt(model.Coord{}); red.Color() != model.Red {
		t.Errorf("origin colour = %v, want red", red.Color())
	}
	marker, ok := w.EntityAt(model.FromCartesian(-1.5, -1))
	if !ok || marker.Kind != model.KindMarker || marker.Color != model.Violet {
		t.Fatalf("marker = %+v, %v", marker, ok)
	}
}

func TestLoadScenarioFile_RejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown field":  `{"particles": [{"x": 0, "y": 0, "speed": 3}]}`,
		"missing y":      `{"particles": [{"x": 0}]}`,
		"colour index":   `{"tiles": [{"x": 0, "y": 0, "color": 12}]}`,
		"fractional row": `{"markers": [{"x": 0, "y": 0.5}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadScenarioFile(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadScenarioFile_UnknownColorName(t *testing.T) {
	_, err := LoadScenarioFile(strings.NewReader(`{"particles": [{"x": 0, "y": 0, "color": "mauve"}]}`))
	if !errors.Is(err, model.ErrUnknownColor) {
		t.Fatalf("expected ErrUnknownColor, got %v", err)
	}
}

func TestScenarioFile_PopulateConflict(t *testing.T) {
	sc, err := LoadScenarioFile(strings.NewReader(`{"particles": [{"x": 0, "y": 0}], "tiles": [{"x": 0, "y": 0}]}`))
	if err != nil {
		t.Fatalf("LoadScenarioFile: %v", err)
	}
	if err := sc.Populate(context.Background(), NewWorld(WorldConfig{})); err == nil {
		t.Fatalf("expected occupancy conflict")
	}
}
