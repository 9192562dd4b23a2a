package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/config"
	"github.com/schedule-sync/backend/internal/frontend"
	"github.com/schedule-sync/backend/internal/mock"
	"github.com/schedule-sync/backend/internal/schedule"
	"github.com/schedule-sync/backend/internal/synchronize"
	"github.com/schedule-sync/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Run the demo generator against a few demo schedules")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mockMode {
		cfg.Mock.Enabled = true
	}
	if !cfg.Loopback() && cfg.Server.AuthToken == "" {
		token, err := config.GenerateToken()
		if err != nil {
			glog.Fatalf("Failed to generate auth token: %v", err)
		}
		cfg.Server.AuthToken = token
		glog.Warningf("Listening on %s without an auth token; generated one: %s", cfg.Server.Host, token)
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		glog.Fatalf("Failed to load catalog: %v", err)
	}
	glog.Infof("Loaded %d courses from %s", cat.Len(), cfg.Catalog.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := schedule.OpenStore(cfg.Storage.SQLitePath)
	if err != nil {
		glog.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		glog.Fatalf("Failed to initialise store: %v", err)
	}

	broadcaster := ws.NewBroadcaster(cfg.Sync.SendBuffer, cfg.Server.MaxConnections, cfg.Sync.PingInterval)
	registry := synchronize.NewRegistry(broadcaster)
	schedules := schedule.NewService(store, cat, registry, cfg.Sync.PersistDebounce)

	frontendDir := ""
	if *devMode {
		exe, _ := os.Executable()
		frontendDir = filepath.Join(filepath.Dir(exe), "..", "..", "internal", "frontend", "static")
		// go run builds into a temp dir; use CWD instead.
		if _, err := os.Stat(frontendDir); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			frontendDir = filepath.Join(cwd, "internal", "frontend", "static")
		}
	}

	// Embedded frontend handler: when built with -tags embed, serves from binary.
	// Otherwise falls back to serving from the filesystem.
	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "internal", "frontend", "static")
			if _, err := os.Stat(fallback); err == nil {
				glog.Infof("No embedded frontend, falling back to: %s", fallback)
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	server := ws.NewServer(cfg, broadcaster, registry, schedules, cat, frontendDir, *devMode, embeddedHandler)

	if cfg.Mock.Enabled {
		gen := mock.NewGenerator(schedules, cat.IDs(), cfg.Mock.Interval)
		if err := gen.Start(ctx); err != nil {
			glog.Fatalf("Failed to start demo generator: %v", err)
		}
		glog.Infof("Demo schedules: %v", gen.ScheduleIDs())
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	httpServer := ws.NewHTTPServer(cfg.Server.Host, cfg.Server.Port, mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("Shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	glog.Infof("Listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Fatalf("Server error: %v", err)
	}

	drainCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	server.Shutdown(drainCtx)
	glog.Info("Stopped")
}
