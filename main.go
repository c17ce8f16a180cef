package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"skyfleet/simulator/internal/blackbox"
	"skyfleet/simulator/internal/config"
	"skyfleet/simulator/internal/events"
	"skyfleet/simulator/internal/fleet"
	"skyfleet/simulator/internal/httpapi"
	"skyfleet/simulator/internal/logging"
	"skyfleet/simulator/internal/scenario"
	"skyfleet/simulator/internal/sensor"
	"skyfleet/simulator/internal/sim"
	"skyfleet/simulator/internal/telemetry"
	"skyfleet/simulator/internal/vmath"
	"skyfleet/simulator/internal/world"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("simulator terminated", logging.Error(err))
	}
	logger.Info("simulator stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	//1.- A scenario file may override the configured arena dimensions.
	var layout *scenario.Scenario
	bounds := vmath.Vector3{X: cfg.WorldBounds.X, Y: cfg.WorldBounds.Y, Z: cfg.WorldBounds.Z}
	if cfg.ScenarioPath != "" {
		loaded, err := scenario.Load(cfg.ScenarioPath)
		if err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
		layout = loaded
		if layout.Bounds != nil {
			bounds = *layout.Bounds
		}
		logger.Info("scenario loaded", logging.String("name", layout.Name), logging.String("path", cfg.ScenarioPath))
	}

	space, err := world.NewSpace(bounds)
	if err != nil {
		return fmt.Errorf("build space: %w", err)
	}

	stream := events.NewStream(events.Config{})
	clock := sim.NewClock(nil)

	manager, err := fleet.NewManager(fleet.Options{
		Space:      space,
		Events:     stream,
		Logger:     logger,
		TickRateHz: cfg.TickRateHz,
		Clock:      clock,
	})
	if err != nil {
		return fmt.Errorf("build fleet: %w", err)
	}

	//2.- Populate the world: the scenario when provided, a demo layout otherwise.
	if layout != nil {
		if err := layout.Apply(ctx, space, manager); err != nil {
			return fmt.Errorf("apply scenario: %w", err)
		}
	} else {
		space.PopulateSampleScenario()
	}

	snapshots, err := NewStateSnapshotter(cfg.StateSnapshotPath, cfg.StateSnapshotInterval, logger)
	if err != nil {
		return fmt.Errorf("state snapshots: %w", err)
	}

	//3.- The flight recorder is optional remote-archived, always local.
	var uploader blackbox.Uploader
	if cfg.BlackboxS3Bucket != "" {
		s3Uploader, err := blackbox.NewS3Uploader(ctx, cfg.BlackboxS3Bucket, cfg.BlackboxS3Prefix)
		if err != nil {
			logger.Warn("blackbox s3 upload disabled", logging.Error(err))
		} else {
			uploader = s3Uploader
		}
	}
	recorder, manifest, err := blackbox.NewRecorder(cfg.BlackboxDir, "fleet", nil, uploader)
	if err != nil {
		return fmt.Errorf("blackbox recorder: %w", err)
	}
	defer recorder.Close()
	logger.Info("blackbox recording", logging.String("bundle", recorder.Directory()), logging.String("flight_id", manifest.FlightID))

	cleaner := blackbox.NewCleaner(cfg.BlackboxDir, blackbox.RetentionPolicy{MaxBundles: cfg.BlackboxMaxBundles}, logger, recorder.Directory)

	hub := NewHub(cfg, logger, snapshots)
	broadcaster := NewStatusBroadcaster(manager, hub, stream, recorder, clock, snapshots, logger, cfg.StatusInterval)

	scanner := sensor.NewScanner(sensor.Options{
		Fleet:  manager,
		Space:  space,
		Events: stream,
		Logger: logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	NewAPI(manager, space, snapshots, logger).Register(mux)
	httpapi.NewHandlerSet(httpapi.Options{
		Logger:        logger,
		Readiness:     hub,
		Stats:         hub.Stats,
		Fleet:         manager.AllStatistics,
		FleetRunning:  manager.Running,
		Ticks:         manager.TickMetrics,
		Blackbox:      recorder,
		BlackboxStats: recorder.Stats,
		Storage:       cleaner.Stats,
		AdminToken:    cfg.AdminToken,
		RateLimiter:   httpapi.NewSlidingWindowLimiter(cfg.BlackboxDumpWindow, cfg.BlackboxDumpBurst, nil),
	}).Register(mux)

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: logging.HTTPTraceMiddleware(logger)(mux),
	}

	grpcServer := grpc.NewServer()
	telemetry.Register(grpcServer, telemetry.NewService(manager, clock))
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	manager.StartAll(ctx)
	scanner.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		tlsEnabled := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
		logger.Info("listening", logging.String("url", listenerURL(cfg.Address, tlsEnabled)))
		var err error
		if tlsEnabled {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		hub.SetStartupError(err)
		return err
	})

	group.Go(func() error {
		logger.Info("telemetry bridge listening", logging.String("address", cfg.GRPCAddress))
		return grpcServer.Serve(grpcListener)
	})

	group.Go(func() error {
		return broadcaster.Run(groupCtx)
	})

	group.Go(func() error {
		cleaner.Run(groupCtx, time.Hour)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		//4.- Stop the simulation before tearing transports down.
		scanner.Stop()
		manager.StopAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		hub.Close()
		if snapshots != nil {
			_ = snapshots.Close()
		}
		return nil
	})

	return group.Wait()
}
