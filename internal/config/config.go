// Package config loads the gateway's two JSON configuration files
// (server.json, database.json), applies defaults and ${VAR} environment
// substitution, and watches both for hot-reload.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ServerConfig holds server.json's recognized keys.
type ServerConfig struct {
	Port           uint16 `json:"port"`
	ThreadPoolSize uint16 `json:"thread_pool_size"`
	LogPath        string `json:"log_path"`
	AdminPort      uint16 `json:"admin_port"`
	AdminBind      string `json:"admin_bind"`
}

// DatabaseEntry describes one backend pool in database.json.
type DatabaseEntry struct {
	Type     string    `json:"type"` // "mysql" | "sqlite"
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	User     string    `json:"user"`
	Password string    `json:"password"`
	Database string    `json:"database"`
	Path     string    `json:"path"` // sqlite only
	Pool     PoolEntry `json:"pool"`
}

// PoolEntry is the per-database pool sizing block.
type PoolEntry struct {
	Enable bool `json:"enable"`
	Size   int  `json:"size"`
}

// EffectiveSize returns the configured pool size, or 1 when pooling is
// disabled.
func (p PoolEntry) EffectiveSize() int {
	if !p.Enable {
		return 1
	}
	if p.Size <= 0 {
		return 4
	}
	return p.Size
}

// DatabaseConfig holds database.json's recognized keys.
type DatabaseConfig struct {
	Databases []DatabaseEntry `json:"databases"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(name)); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadServerConfig reads and validates server.json, applying defaults for
// any key that is absent or zero.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	data = substituteEnvVars(data)

	cfg := &ServerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyServerDefaults(cfg)
	return cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port < 1024 {
		cfg.Port = 19998
	}
	maxThreads := uint16(runtime.NumCPU())
	if cfg.ThreadPoolSize == 0 || cfg.ThreadPoolSize > maxThreads {
		half := maxThreads / 2
		if half < 1 {
			half = 1
		}
		if cfg.ThreadPoolSize == 0 {
			cfg.ThreadPoolSize = half
		} else {
			cfg.ThreadPoolSize = maxThreads
		}
	}
	if cfg.LogPath == "" {
		cfg.LogPath = "./server.log"
	}
	if cfg.AdminPort == 0 {
		cfg.AdminPort = 19999
	}
	if cfg.AdminBind == "" {
		cfg.AdminBind = "127.0.0.1"
	}
}

// LoadDatabaseConfig reads and validates database.json.
func LoadDatabaseConfig(path string) (*DatabaseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	data = substituteEnvVars(data)

	cfg := &DatabaseConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := validateDatabases(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}
	return cfg, nil
}

func validateDatabases(cfg *DatabaseConfig) error {
	for i, db := range cfg.Databases {
		switch db.Type {
		case "mysql":
			if db.Host == "" || db.Database == "" {
				return fmt.Errorf("databases[%d]: mysql entries require host and database", i)
			}
		case "sqlite":
			if db.Path == "" {
				return fmt.Errorf("databases[%d]: sqlite entries require path", i)
			}
		default:
			return fmt.Errorf("databases[%d]: unsupported type %q", i, db.Type)
		}
	}
	return nil
}

// Watcher watches server.json and database.json for changes and invokes a
// callback with freshly loaded configuration, debounced so rapid
// successive writes coalesce into one reload.
type Watcher struct {
	serverPath, dbPath string
	onReload           func(*ServerConfig, *DatabaseConfig)
	fsw                *fsnotify.Watcher
	mu                 sync.Mutex
	stopCh             chan struct{}
}

// NewWatcher watches both config files and calls onReload after any
// change, once debounced for 500ms.
func NewWatcher(serverPath, dbPath string, onReload func(*ServerConfig, *DatabaseConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := fsw.Add(serverPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", serverPath, err)
	}
	if err := fsw.Add(dbPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dbPath, err)
	}

	w := &Watcher{
		serverPath: serverPath,
		dbPath:     dbPath,
		onReload:   onReload,
		fsw:        fsw,
		stopCh:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, w.reload)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	sc, err := LoadServerConfig(w.serverPath)
	if err != nil {
		slog.Warn("config hot-reload failed", "file", w.serverPath, "err", err)
		return
	}
	dc, err := LoadDatabaseConfig(w.dbPath)
	if err != nil {
		slog.Warn("config hot-reload failed", "file", w.dbPath, "err", err)
		return
	}
	slog.Info("configuration reloaded", "server", w.serverPath, "database", w.dbPath)
	w.onReload(sc, dc)
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fsw.Close()
}
