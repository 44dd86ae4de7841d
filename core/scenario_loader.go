// core/scenario_loader.go
package core

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/signalsfoundry/swarm-simulator/model"
)

//go:embed scenario.schema.json
var scenarioSchemaJSON string

var scenarioSchema = jsonschema.MustCompileString("scenario.schema.json", scenarioSchemaJSON)

// ScenarioFile is the decoded form of a JSON scenario. It is mainly useful for
// logging from main() and for building the world it describes.
type ScenarioFile struct {
	World     *WorldConfig
	Particles []Placement
	Tiles     []Placement
	Markers   []Placement
}

// Placement is one entity in a scenario file.
type Placement struct {
	Coord model.Coord
	Color model.Color
}

// internal JSON shapes – keep them unexported so we’re free to evolve them.
type scenarioJSON struct {
	World     *worldJSON      `json:"world"`
	Particles []placementJSON `json:"particles"`
	Tiles     []placementJSON `json:"tiles"`
	Markers   []placementJSON `json:"markers"`
}

type worldJSON struct {
	XSize    float64 `json:"x_size"`
	YSize    float64 `json:"y_size"`
	MaxRound int     `json:"max_round"`
	Seed     uint64  `json:"seed"`
}

type placementJSON struct {
	X     float64         `json:"x"`
	Y     float64         `json:"y"`
	Color json.RawMessage `json:"color"` // palette name or index
}

// LoadScenarioFile reads and validates a JSON scenario.
func LoadScenarioFile(r io.Reader) (*ScenarioFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: read failed: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: decode failed: %w", err)
	}
	if err := scenarioSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: schema validation failed: %w", err)
	}

	var payload scenarioJSON
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: decode failed: %w", err)
	}

	out := &ScenarioFile{}
	if payload.World != nil {
		out.World = &WorldConfig{
			XSize:    payload.World.XSize,
			YSize:    payload.World.YSize,
			MaxRound: payload.World.MaxRound,
			Seed:     payload.World.Seed,
		}
	}
	groups := []struct {
		name string
		in   []placementJSON
		out  *[]Placement
	}{
		{"particles", payload.Particles, &out.Particles},
		{"tiles", payload.Tiles, &out.Tiles},
		{"markers", payload.Markers, &out.Markers},
	}
	for _, g := range groups {
		for i, p := range g.in {
			color, err := colorFromJSON(p.Color)
			if err != nil {
				return nil, fmt.Errorf("LoadScenarioFile: %s[%d]: %w", g.name, i, err)
			}
			*g.out = append(*g.out, Placement{
				Coord: model.FromCartesian(p.X, p.Y),
				Color: color,
			})
		}
	}
	return out, nil
}

// Populate places every entity of the file into w. It implements Scenario.
func (s *ScenarioFile) Populate(_ context.Context, w *World) error {
	for _, p := range s.Particles {
		if _, err := w.AddParticle(p.Coord, p.Color); err != nil {
			return err
		}
	}
	for _, p := range s.Tiles {
		if _, err := w.AddTile(p.Coord, p.Color); err != nil {
			return err
		}
	}
	for _, p := range s.Markers {
		if _, err := w.AddMarker(p.Coord, p.Color); err != nil {
			return err
		}
	}
	return nil
}

// colorFromJSON accepts either a palette name or a 1-based index. A missing
// colour defaults to black.
func colorFromJSON(raw json.RawMessage) (model.Color, error) {
	if len(raw) == 0 {
		return model.Black, nil
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err == nil {
		return model.ColorFromIndex(idx)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("%w: %s", model.ErrUnknownColor, string(raw))
	}
	return model.ParseColor(name)
}
