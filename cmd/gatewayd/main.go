// Command gatewayd runs the gateway server: a long-running TCP listener
// speaking the binary framed protocol, a bounded DB connection pool per
// configured backend, and a separate admin HTTP surface.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dbbouncer/gateway/internal/api"
	"github.com/dbbouncer/gateway/internal/clients"
	"github.com/dbbouncer/gateway/internal/config"
	"github.com/dbbouncer/gateway/internal/dbexec"
	"github.com/dbbouncer/gateway/internal/dispatch"
	"github.com/dbbouncer/gateway/internal/logging"
	"github.com/dbbouncer/gateway/internal/metrics"
	"github.com/dbbouncer/gateway/internal/reactor"
	"github.com/dbbouncer/gateway/internal/registry"
	"github.com/dbbouncer/gateway/internal/server"
	"github.com/dbbouncer/gateway/internal/services/comm"
	"github.com/dbbouncer/gateway/internal/services/dbsvc"
	"github.com/dbbouncer/gateway/internal/services/heart"
	"github.com/dbbouncer/gateway/internal/services/hello"
	"github.com/dbbouncer/gateway/internal/session"
)

func main() {
	configDir, err := resolveConfigDir()
	if err != nil {
		slog.Error("fatal: locating configuration directory", "err", err)
		os.Exit(0)
	}

	serverCfg, err := config.LoadServerConfig(filepath.Join(configDir, "server.json"))
	if err != nil {
		slog.Error("fatal: loading server.json", "err", err)
		os.Exit(0)
	}
	dbCfg, err := config.LoadDatabaseConfig(filepath.Join(configDir, "database.json"))
	if err != nil {
		slog.Error("fatal: loading database.json", "err", err)
		os.Exit(0)
	}

	logger, closeLog, err := logging.New(serverCfg.LogPath)
	if err != nil {
		slog.Error("fatal: opening log sink", "err", err)
		os.Exit(0)
	}
	slog.SetDefault(logger)
	defer closeLog()

	m := metrics.New()

	executor := dbexec.NewWithMetrics(m)
	if err := executor.InitializeFromConfig(context.Background(), dbCfg); err != nil {
		slog.Error("fatal: initializing database pools", "err", err)
		os.Exit(0)
	}
	go pollPoolStats(executor, m)

	clientReg := clients.New()
	sessions := session.NewRegistry()
	reactors := reactor.NewPool(reactor.DefaultSize(int(serverCfg.ThreadPoolSize)))

	reg := registry.New()
	reg.Register(hello.New())
	reg.Register(dbsvc.New(executor))
	reg.Register(comm.New(clientReg))
	reg.Register(heart.New())

	srv := server.NewWithMetrics(serverCfg.Port, reactors, sessions, clientReg, dispatch.NewWithMetrics(reg, m), m)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("gateway server stopped", "err", err)
		}
	}()

	adminServer := api.NewServer(sessions, clientReg, executor, m)
	if err := adminServer.Start(serverCfg.AdminBind, serverCfg.AdminPort); err != nil {
		slog.Error("fatal: starting admin api", "err", err)
		os.Exit(0)
	}

	watcher, err := config.NewWatcher(
		filepath.Join(configDir, "server.json"),
		filepath.Join(configDir, "database.json"),
		func(sc *config.ServerConfig, dc *config.DatabaseConfig) {
			slog.Info("configuration changed on disk, reloading database pools")
			if err := executor.Reload(context.Background(), dc); err != nil {
				slog.Error("reloading database pools", "err", err)
			}
		},
	)
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	slog.Info("gatewayd ready", "port", serverCfg.Port, "admin_port", serverCfg.AdminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	if watcher != nil {
		watcher.Stop()
	}
	adminServer.Stop()
	srv.Stop()
	sessions.Range(func(s *session.Session) { s.Close() })
	reactors.Stop()
	executor.Shutdown()

	slog.Info("gatewayd stopped")
}

// pollPoolStats periodically pushes each backend pool's Stats snapshot
// into the gauge quartet exported on /metrics. The admin API's /pools view
// reads Executor.Snapshot directly and does not use these gauges.
func pollPoolStats(executor *dbexec.Executor, m *metrics.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, ps := range executor.Snapshot() {
			m.UpdatePoolStats(ps.Key.Type, ps.Key.Ident, ps.Stats.Created-ps.Stats.Idle, ps.Stats.Idle, ps.Stats.Created, 0)
		}
	}
}

// resolveConfigDir locates the directory holding server.json/database.json,
// relative to the executable's own directory, falling back to
// GATEWAY_CONFIG_DIR for test-harness convenience when the executable's
// directory does not contain server.json.
func resolveConfigDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	if _, err := os.Stat(filepath.Join(dir, "server.json")); err == nil {
		return dir, nil
	}
	if envDir := os.Getenv("GATEWAY_CONFIG_DIR"); envDir != "" {
		return envDir, nil
	}
	return dir, nil
}
