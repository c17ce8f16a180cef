package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"skyfleet/simulator/internal/drone"
	"skyfleet/simulator/internal/fleet"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

// API exposes the fleet command surface over REST. WebSocket consumers are
// read-only; every state change comes through these routes.
type API struct {
	fleet     *fleet.Manager
	space     *world.Space
	snapshots *StateSnapshotter
	log       *logging.Logger
}

// NewAPI builds the REST handler set.
func NewAPI(manager *fleet.Manager, space *world.Space, snapshots *StateSnapshotter, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.L()
	}
	return &API{
		fleet:     manager,
		space:     space,
		snapshots: snapshots,
		log:       logger.With(logging.String("component", "api")),
	}
}

// Register attaches every route to the mux using method-qualified patterns.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/drones", a.handleAddDrone)
	mux.HandleFunc("GET /api/drones", a.handleListDrones)
	mux.HandleFunc("DELETE /api/drones/{id}", a.handleRemoveDrone)
	mux.HandleFunc("GET /api/drones/{id}/status", a.handleDroneStatus)
	mux.HandleFunc("POST /api/drones/{id}/takeoff", a.droneCommand(func(b fleet.Backend) error { return b.Takeoff() }))
	mux.HandleFunc("POST /api/drones/{id}/land", a.droneCommand(func(b fleet.Backend) error { return b.Land() }))
	mux.HandleFunc("POST /api/drones/{id}/emergency", a.droneCommand(func(b fleet.Backend) error {
		b.EmergencyLand()
		return nil
	}))
	mux.HandleFunc("POST /api/drones/{id}/reset", a.droneCommand(func(b fleet.Backend) error { return b.Reset() }))
	mux.HandleFunc("POST /api/drones/{id}/move", a.handleMove)
	mux.HandleFunc("POST /api/drones/{id}/rotate", a.handleRotate)
	mux.HandleFunc("POST /api/fleet/start", a.handleFleetStart)
	mux.HandleFunc("POST /api/fleet/stop", a.handleFleetStop)
	mux.HandleFunc("GET /api/fleet/statistics", a.handleFleetStatistics)
	mux.HandleFunc("GET /api/world", a.handleWorld)
	mux.HandleFunc("GET /api/obstacles", a.handleListObstacles)
	mux.HandleFunc("POST /api/obstacles", a.handleAddObstacle)
	mux.HandleFunc("DELETE /api/obstacles/{id}", a.handleRemoveObstacle)
}

type addDroneRequest struct {
	ID       string         `json:"id"`
	Backend  string         `json:"backend,omitempty"`
	Position *vmath.Vector3 `json:"position,omitempty"`
}

func (a *API) handleAddDrone(w http.ResponseWriter, r *http.Request) {
	var req addDroneRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		writeAPIError(w, http.StatusBadRequest, "drone id must be provided")
		return
	}
	spawn := vmath.Vector3{}
	if req.Position != nil {
		if !req.Position.IsFinite() {
			writeAPIError(w, http.StatusBadRequest, "position must be finite")
			return
		}
		spawn = *req.Position
	}
	kind, err := fleet.ParseBackendKind(req.Backend)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	backend, err := a.fleet.AddDrone(r.Context(), req.ID, kind, spawn)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backend.Statistics())
}

func (a *API) handleListDrones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": a.fleet.Running(),
		"drones":  a.fleet.AllStatistics(),
	})
}

func (a *API) handleRemoveDrone(w http.ResponseWriter, r *http.Request) {
	if err := a.fleet.RemoveDrone(r.PathValue("id")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (a *API) handleDroneStatus(w http.ResponseWriter, r *http.Request) {
	backend, err := a.fleet.Get(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	snapshot := backend.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"drone_id":     backend.ID(),
		"flight_state": backend.FlightState().String(),
		"state":        snapshot,
		"statistics":   backend.Statistics(),
	})
}

// droneCommand adapts a backend operation into a handler with shared
// lookup and error mapping.
func (a *API) droneCommand(op func(fleet.Backend) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backend, err := a.fleet.Get(r.PathValue("id"))
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		if err := op(backend); err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "accepted",
			"flight_state": backend.FlightState().String(),
		})
	}
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (a *API) handleMove(w http.ResponseWriter, r *http.Request) {
	backend, err := a.fleet.Get(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := vmath.Vector3{X: req.X, Y: req.Y, Z: req.Z}
	if !target.IsFinite() {
		writeAPIError(w, http.StatusBadRequest, "target coordinates must be finite")
		return
	}
	if err := backend.MoveTo(target); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "target": target})
}

type rotateRequest struct {
	Yaw float64 `json:"yaw"`
}

func (a *API) handleRotate(w http.ResponseWriter, r *http.Request) {
	backend, err := a.fleet.Get(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	var req rotateRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if math.IsNaN(req.Yaw) || math.IsInf(req.Yaw, 0) {
		writeAPIError(w, http.StatusBadRequest, "yaw must be finite")
		return
	}
	if err := backend.RotateToYaw(req.Yaw); err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted", "yaw": req.Yaw})
}

func (a *API) handleFleetStart(w http.ResponseWriter, r *http.Request) {
	//1.- Detach from the request context so the fleet outlives this call.
	a.fleet.StartAll(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "started", "drones": a.fleet.IDs()})
}

func (a *API) handleFleetStop(w http.ResponseWriter, _ *http.Request) {
	a.fleet.StopAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *API) handleFleetStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"running":   a.fleet.Running(),
		"ticks":     a.fleet.TickMetrics(),
		"drones":    a.fleet.AllStatistics(),
	})
}

func (a *API) handleWorld(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bounds":         a.space.Bounds(),
		"obstacle_count": a.space.ObstacleCount(),
		"obstacles":      a.space.SnapshotObstacles(),
	})
}

func (a *API) handleListObstacles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"obstacles": a.space.SnapshotObstacles()})
}

func (a *API) handleAddObstacle(w http.ResponseWriter, r *http.Request) {
	var obstacle world.Obstacle
	if err := decodeBody(r, &obstacle); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.space.AddObstacle(obstacle); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.recordLayout()
	writeJSON(w, http.StatusCreated, obstacle)
}

func (a *API) handleRemoveObstacle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if world.IsBoundary(id) {
		writeAPIError(w, http.StatusUnprocessableEntity, "boundary obstacles cannot be removed")
		return
	}
	if !a.space.RemoveObstacle(id) {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("unknown obstacle %q", id))
		return
	}
	a.recordLayout()
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// recordLayout persists the obstacle layout for post-restart replay.
func (a *API) recordLayout() {
	payload, err := json.Marshal(map[string]any{
		"type":      "world_layout",
		"bounds":    a.space.Bounds(),
		"obstacles": a.space.SnapshotObstacles(),
	})
	if err != nil {
		a.log.Error("layout encode failed", logging.Error(err))
		return
	}
	a.snapshots.Record("world_layout", payload)
}

// writeDomainError maps fleet and drone errors onto HTTP statuses.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fleet.ErrUnknownDrone):
		status = http.StatusNotFound
	case errors.Is(err, fleet.ErrDuplicateDrone), errors.Is(err, drone.ErrInvalidState), errors.Is(err, drone.ErrLowBattery):
		status = http.StatusConflict
	case errors.Is(err, fleet.ErrInvalidSpawn), errors.Is(err, drone.ErrInvalidTarget), errors.Is(err, fleet.ErrUnsupportedBackend):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		a.log.Error("unexpected api failure", logging.Error(err))
	}
	writeAPIError(w, status, err.Error())
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return errors.New("request body must be provided")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
