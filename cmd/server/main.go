package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/skysched/vertiport/internal/admission"
	"github.com/skysched/vertiport/internal/api"
	"github.com/skysched/vertiport/internal/broadcast"
	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/escalation"
	"github.com/skysched/vertiport/internal/metrics"
	"github.com/skysched/vertiport/internal/recency"
	"github.com/skysched/vertiport/internal/scoring"
	"github.com/skysched/vertiport/internal/sim"
	"github.com/skysched/vertiport/internal/storage/sqlite"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting vertiport admission server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Build the destination registry
	dests := make([]uam.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		dests = append(dests, uam.Destination{
			Key:              uam.DestinationKey(d.Key),
			Name:             d.Name,
			Lat:              d.Lat,
			Lng:              d.Lng,
			Scored:           d.Scored,
			RequiresApproval: d.RequiresApproval,
		})
	}
	destinations, err := uam.NewDestinationSet(dests)
	if err != nil {
		log.Error("Invalid destination configuration", logger.Error(err))
		os.Exit(1)
	}

	// Ensure the database directory exists
	dbDir := filepath.Dir(cfg.Storage.SQLitePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
		os.Exit(1)
	}

	// Create queue storage; this clears any ranking state from a previous run
	queueStorage, err := sqlite.NewQueueStorage(
		cfg.Storage.SQLitePath,
		time.Duration(cfg.Storage.DetailTTLSecs)*time.Second,
		log,
	)
	if err != nil {
		log.Error("Failed to create queue storage", logger.Error(err))
		os.Exit(1)
	}
	defer queueStorage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create the fleet recency buffer
	recencyBuffer, err := recency.NewBuffer(cfg.Broadcast.RecencyCapacity)
	if err != nil {
		log.Error("Failed to create recency buffer", logger.Error(err))
		os.Exit(1)
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Create the admission controller and its instruments
	scorer := scoring.NewScorer(cfg.Scoring)
	controller := admission.NewController(
		destinations,
		scorer,
		queueStorage,
		recencyBuffer,
		wsServer,
		cfg.Broadcast.TopK,
		log,
	)

	pipeline, err := metrics.NewPipeline(controller.QueueDepth)
	if err != nil {
		log.Error("Failed to create metrics pipeline", logger.Error(err))
		os.Exit(1)
	}
	controller.SetPipeline(pipeline)

	// Create and set WebSocket handlers for the admission controller
	wsHandler := admission.NewWebSocketHandler(controller, log)
	wsServer.SetMessageHandler(wsHandler)
	wsServer.SetConnectHandler(wsHandler)

	// Create the simulated fleet
	fleet, err := sim.NewFleet(cfg.Fleet, destinations, controller, log)
	if err != nil {
		log.Error("Failed to create fleet", logger.Error(err))
		os.Exit(1)
	}
	controller.SetFleet(fleet)

	// Create the broadcast scheduler
	scheduler := broadcast.NewScheduler(cfg.Broadcast, controller, wsServer, pipeline, log)

	// Create the escalation monitor (if enabled)
	var monitor *escalation.Monitor
	if cfg.Escalation.Enabled {
		monitor = escalation.NewMonitor(cfg.Escalation, controller, log)
		controller.SetCountdownCanceler(monitor)
		scheduler.AddListener(monitor)
	} else {
		log.Info("Escalation monitor disabled in configuration")
	}

	// Start background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet.Start(ctx)
	scheduler.Start(ctx)

	// --- Setup for multiple HTTP servers ---
	router := api.NewRouter(controller, cfg, log, wsServer)

	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(), // All servers use the same main router
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop background services first
	log.Info("Stopping fleet...")
	fleet.Stop()
	log.Info("Fleet stopped.")

	if monitor != nil {
		log.Info("Stopping escalation monitor...")
		monitor.Stop()
		log.Info("Escalation monitor stopped.")
	}

	log.Info("Stopping broadcast scheduler...")
	scheduler.Stop()
	log.Info("Broadcast scheduler stopped.")

	// Cancel the main context
	cancel()

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}
