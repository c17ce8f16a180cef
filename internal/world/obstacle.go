package world

import (
	"fmt"
	"strings"

	"skyfleet/simulator/internal/vmath"
)

// ObstacleType classifies the obstacles a space can hold.
type ObstacleType string

const (
	ObstacleWall    ObstacleType = "wall"
	ObstacleCeiling ObstacleType = "ceiling"
	ObstacleFloor   ObstacleType = "floor"
	ObstacleColumn  ObstacleType = "column"
	ObstacleDynamic ObstacleType = "dynamic"
)

// ParseObstacleType validates a raw obstacle type string.
func ParseObstacleType(raw string) (ObstacleType, error) {
	switch ObstacleType(strings.ToLower(strings.TrimSpace(raw))) {
	case ObstacleWall:
		return ObstacleWall, nil
	case ObstacleCeiling:
		return ObstacleCeiling, nil
	case ObstacleFloor:
		return ObstacleFloor, nil
	case ObstacleColumn:
		return ObstacleColumn, nil
	case ObstacleDynamic:
		return ObstacleDynamic, nil
	default:
		return "", fmt.Errorf("unknown obstacle type %q", raw)
	}
}

// Obstacle is an axis-aligned box occupying part of a space. Size holds full
// extents, so the bounding volume is position ± size/2. The rotation field is
// carried for consumers but ignored by collision queries, which are strictly
// axis aligned.
type Obstacle struct {
	ID       string        `json:"id"`
	Type     ObstacleType  `json:"type"`
	Position vmath.Vector3 `json:"position"`
	Size     vmath.Vector3 `json:"size"`
	Rotation vmath.Vector3 `json:"rotation"`
	Static   bool          `json:"is_static"`
	Velocity vmath.Vector3 `json:"velocity"`
}

// Bounds returns the obstacle's axis-aligned bounding box.
func (o Obstacle) Bounds() vmath.AABB {
	return vmath.BoxAt(o.Position, o.Size)
}

// Validate reports whether the obstacle can be registered in a space.
func (o Obstacle) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("obstacle id must be provided")
	}
	if _, err := ParseObstacleType(string(o.Type)); err != nil {
		return err
	}
	if !o.Position.IsFinite() || !o.Size.IsFinite() {
		return fmt.Errorf("obstacle %q has non-finite geometry", o.ID)
	}
	if o.Size.X <= 0 || o.Size.Y <= 0 || o.Size.Z <= 0 {
		return fmt.Errorf("obstacle %q size must be positive on every axis", o.ID)
	}
	return nil
}
