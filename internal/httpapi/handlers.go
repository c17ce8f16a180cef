package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"skyfleet/simulator/internal/blackbox"
	"skyfleet/simulator/internal/drone"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/sim"
)

// ReadinessProvider exposes hub state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// StatsFunc returns cumulative broadcast and client statistics.
type StatsFunc func() (broadcasts, clients int)

// BlackboxDumper finalises the active flight bundle and returns its location.
type BlackboxDumper interface {
	Dump(ctx context.Context) (string, error)
}

// BlackboxDumperFunc adapts a function into a BlackboxDumper.
type BlackboxDumperFunc func(ctx context.Context) (string, error)

// Dump implements BlackboxDumper.
func (f BlackboxDumperFunc) Dump(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger        *logging.Logger
	Readiness     ReadinessProvider
	Stats         StatsFunc
	Fleet         func() []drone.Statistics
	FleetRunning  func() bool
	Ticks         func() sim.TickMetricsSnapshot
	Blackbox      BlackboxDumper
	BlackboxStats func() blackbox.Stats
	Storage       func() blackbox.StorageStats
	AdminToken    string
	RateLimiter   RateLimiter
	TimeSource    func() time.Time
}

// HandlerSet bundles the simulator's operational handlers.
type HandlerSet struct {
	logger        *logging.Logger
	readiness     ReadinessProvider
	stats         StatsFunc
	fleet         func() []drone.Statistics
	fleetRunning  func() bool
	ticks         func() sim.TickMetricsSnapshot
	blackbox      BlackboxDumper
	blackboxStats func() blackbox.Stats
	storage       func() blackbox.StorageStats
	adminToken    string
	rateLimiter   RateLimiter
	now           func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:        logger,
		readiness:     opts.Readiness,
		stats:         opts.Stats,
		fleet:         opts.Fleet,
		fleetRunning:  opts.FleetRunning,
		ticks:         opts.Ticks,
		blackbox:      opts.Blackbox,
		blackboxStats: opts.BlackboxStats,
		storage:       opts.Storage,
		adminToken:    strings.TrimSpace(opts.AdminToken),
		rateLimiter:   opts.RateLimiter,
		now:           now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/blackbox/dump", h.BlackboxDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports service readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
		FleetRunning   bool    `json:"fleet_running"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.fleetRunning != nil {
			resp.FleetRunning = h.fleetRunning()
		}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broadcasts, clients := h.metricsStats()
		pending, uptime := h.pendingAndUptime()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP simulator_uptime_seconds Simulator uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE simulator_uptime_seconds gauge\n")
		fmt.Fprintf(w, "simulator_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP simulator_clients Current connected WebSocket clients.\n")
		fmt.Fprintf(w, "# TYPE simulator_clients gauge\n")
		fmt.Fprintf(w, "simulator_clients %d\n", clients)

		fmt.Fprintf(w, "# HELP simulator_pending_clients Pending WebSocket handshakes awaiting upgrade.\n")
		fmt.Fprintf(w, "# TYPE simulator_pending_clients gauge\n")
		fmt.Fprintf(w, "simulator_pending_clients %d\n", pending)

		fmt.Fprintf(w, "# HELP simulator_broadcasts_total Total broadcast payloads delivered.\n")
		fmt.Fprintf(w, "# TYPE simulator_broadcasts_total counter\n")
		fmt.Fprintf(w, "simulator_broadcasts_total %d\n", broadcasts)

		if h.fleet != nil {
			stats := h.fleet()
			fmt.Fprintf(w, "# HELP simulator_drone_battery_percent Remaining battery charge per drone.\n")
			fmt.Fprintf(w, "# TYPE simulator_drone_battery_percent gauge\n")
			for _, s := range stats {
				fmt.Fprintf(w, "simulator_drone_battery_percent{drone=%q} %.2f\n", s.DroneID, s.Battery)
			}
			fmt.Fprintf(w, "# HELP simulator_drone_collisions_total Collisions recorded per drone.\n")
			fmt.Fprintf(w, "# TYPE simulator_drone_collisions_total counter\n")
			for _, s := range stats {
				fmt.Fprintf(w, "simulator_drone_collisions_total{drone=%q} %d\n", s.DroneID, s.CollisionCount)
			}
			fmt.Fprintf(w, "# HELP simulator_drone_flight_state Flight state per drone, labelled by state name.\n")
			fmt.Fprintf(w, "# TYPE simulator_drone_flight_state gauge\n")
			for _, s := range stats {
				fmt.Fprintf(w, "simulator_drone_flight_state{drone=%q,state=%q} 1\n", s.DroneID, s.FlightState)
			}
		}
		if h.ticks != nil {
			snapshot := h.ticks()
			fmt.Fprintf(w, "# HELP simulator_tick_duration_seconds Observed physics tick durations.\n")
			fmt.Fprintf(w, "# TYPE simulator_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "simulator_tick_duration_seconds{stat=\"average\"} %.6f\n", snapshot.Average.Seconds())
			fmt.Fprintf(w, "simulator_tick_duration_seconds{stat=\"max\"} %.6f\n", snapshot.Max.Seconds())
			fmt.Fprintf(w, "simulator_tick_duration_seconds{stat=\"last\"} %.6f\n", snapshot.Last.Seconds())
			fmt.Fprintf(w, "# HELP simulator_tick_rate_hz Effective tick frequency derived from the average duration.\n")
			fmt.Fprintf(w, "# TYPE simulator_tick_rate_hz gauge\n")
			fmt.Fprintf(w, "simulator_tick_rate_hz %.2f\n", snapshot.AverageHz())
		}
		if h.blackboxStats != nil {
			stats := h.blackboxStats()
			fmt.Fprintf(w, "# HELP simulator_blackbox_buffer_frames Buffered flight frames awaiting flush.\n")
			fmt.Fprintf(w, "# TYPE simulator_blackbox_buffer_frames gauge\n")
			fmt.Fprintf(w, "simulator_blackbox_buffer_frames %d\n", stats.BufferedFrames)
			fmt.Fprintf(w, "# HELP simulator_blackbox_buffer_bytes Buffered flight payload size in bytes.\n")
			fmt.Fprintf(w, "# TYPE simulator_blackbox_buffer_bytes gauge\n")
			fmt.Fprintf(w, "simulator_blackbox_buffer_bytes %d\n", stats.BufferedBytes)
			fmt.Fprintf(w, "# HELP simulator_blackbox_dumps_total Flight bundle dumps completed successfully.\n")
			fmt.Fprintf(w, "# TYPE simulator_blackbox_dumps_total counter\n")
			fmt.Fprintf(w, "simulator_blackbox_dumps_total %d\n", stats.Dumps)
		}
		if h.storage != nil {
			stats := h.storage()
			fmt.Fprintf(w, "# HELP simulator_blackbox_bundles Retained flight bundles on disk.\n")
			fmt.Fprintf(w, "# TYPE simulator_blackbox_bundles gauge\n")
			fmt.Fprintf(w, "simulator_blackbox_bundles %d\n", stats.Bundles)
			fmt.Fprintf(w, "# HELP simulator_blackbox_bytes Disk footprint of retained bundles in bytes.\n")
			fmt.Fprintf(w, "# TYPE simulator_blackbox_bytes gauge\n")
			fmt.Fprintf(w, "simulator_blackbox_bytes %d\n", stats.Bytes)
		}
		h.writeProcessMetrics(w)
	}
}

// writeProcessMetrics reports host process usage for capacity planning.
func (h *HandlerSet) writeProcessMetrics(w http.ResponseWriter) {
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			fmt.Fprintf(w, "# HELP simulator_process_resident_bytes Resident set size of the simulator process.\n")
			fmt.Fprintf(w, "# TYPE simulator_process_resident_bytes gauge\n")
			fmt.Fprintf(w, "simulator_process_resident_bytes %d\n", mem.RSS)
		}
	}
	//1.- A zero interval samples since the previous call instead of blocking.
	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		fmt.Fprintf(w, "# HELP simulator_host_cpu_percent Host CPU utilisation percentage.\n")
		fmt.Fprintf(w, "# TYPE simulator_host_cpu_percent gauge\n")
		fmt.Fprintf(w, "simulator_host_cpu_percent %.2f\n", usage[0])
	}
}

// BlackboxDumpHandler authorises and triggers flight bundle dumps.
func (h *HandlerSet) BlackboxDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "blackbox_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("blackbox dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("blackbox dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("blackbox dump denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.blackbox == nil {
			reqLogger.Warn("blackbox dump denied: no recorder configured")
			http.Error(w, "blackbox dumping is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.blackbox.Dump(r.Context())
		if err != nil {
			reqLogger.Error("blackbox dump trigger failed", logging.Error(err))
			http.Error(w, "failed to trigger blackbox dump", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("blackbox dump triggered", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) metricsStats() (broadcasts, clients int) {
	if h.stats != nil {
		return h.stats()
	}
	if h.readiness != nil {
		clients, _ = h.readiness.SnapshotClientCounts()
	}
	return
}

func (h *HandlerSet) pendingAndUptime() (pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0
	}
	_, pending = h.readiness.SnapshotClientCounts()
	return pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
