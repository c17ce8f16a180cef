// Package scenario loads declarative world layouts: named obstacle courses
// plus the drones that should spawn into them.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"skyfleet/simulator/internal/fleet"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

// DroneSeed describes a drone the scenario spawns on load.
type DroneSeed struct {
	ID       string        `json:"id"`
	Backend  string        `json:"backend,omitempty"`
	Position vmath.Vector3 `json:"position"`
}

// Scenario is a declarative world layout. Bounds, when present, override the
// configured space dimensions and must be consumed before the space is built.
type Scenario struct {
	Name      string           `json:"name"`
	Bounds    *vmath.Vector3   `json:"bounds,omitempty"`
	Obstacles []world.Obstacle `json:"obstacles"`
	Drones    []DroneSeed      `json:"drones"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario JSON.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := json.NewDecoder(bytes.NewReader(data))
	//1.- Reject unknown keys so typos fail loudly instead of silently dropping.
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate aggregates every problem so operators can fix a file in one pass.
func (s *Scenario) Validate() error {
	if s == nil {
		return errors.New("scenario must not be nil")
	}
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name must be provided")
	}
	if s.Bounds != nil {
		if !s.Bounds.IsFinite() || s.Bounds.X <= 0 || s.Bounds.Y <= 0 || s.Bounds.Z <= 0 {
			problems = append(problems, "bounds must be positive on every axis")
		}
	}
	seenObstacles := make(map[string]struct{}, len(s.Obstacles))
	for i, obstacle := range s.Obstacles {
		if err := obstacle.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("obstacle %d: %v", i, err))
			continue
		}
		if _, dup := seenObstacles[obstacle.ID]; dup {
			problems = append(problems, fmt.Sprintf("obstacle %d: duplicate id %q", i, obstacle.ID))
		}
		seenObstacles[obstacle.ID] = struct{}{}
	}
	seenDrones := make(map[string]struct{}, len(s.Drones))
	for i, seed := range s.Drones {
		if strings.TrimSpace(seed.ID) == "" {
			problems = append(problems, fmt.Sprintf("drone %d: id must be provided", i))
			continue
		}
		if _, dup := seenDrones[seed.ID]; dup {
			problems = append(problems, fmt.Sprintf("drone %d: duplicate id %q", i, seed.ID))
		}
		seenDrones[seed.ID] = struct{}{}
		if !seed.Position.IsFinite() {
			problems = append(problems, fmt.Sprintf("drone %d: position must be finite", i))
		}
		if _, err := fleet.ParseBackendKind(seed.Backend); err != nil {
			problems = append(problems, fmt.Sprintf("drone %d: %v", i, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid scenario: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Apply installs the scenario's obstacles and spawns its drones. Bounds are
// not applied here; callers size the space before construction.
func (s *Scenario) Apply(ctx context.Context, space *world.Space, manager *fleet.Manager) error {
	if s == nil {
		return errors.New("scenario must not be nil")
	}
	for _, obstacle := range s.Obstacles {
		if err := space.AddObstacle(obstacle); err != nil {
			return fmt.Errorf("scenario obstacle %q: %w", obstacle.ID, err)
		}
	}
	for _, seed := range s.Drones {
		kind, err := fleet.ParseBackendKind(seed.Backend)
		if err != nil {
			return fmt.Errorf("scenario drone %q: %w", seed.ID, err)
		}
		if _, err := manager.AddDrone(ctx, seed.ID, kind, seed.Position); err != nil {
			return fmt.Errorf("scenario drone %q: %w", seed.ID, err)
		}
	}
	return nil
}
