// Package dbexec implements the gateway's DB request executor, the Go
// rendering of the original server's DBExecutor: a process-wide,
// key-to-pool map with lookup, timeout-bound acquire, execute, and
// release, plus a "close" command that tears a pool down and forgets it.
package dbexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dbbouncer/gateway/internal/config"
	"github.com/dbbouncer/gateway/internal/dbpool"
	"github.com/dbbouncer/gateway/internal/metrics"
)

// Request mirrors the original DBRequest.
type Request struct {
	Key       dbpool.Key
	SQL       string
	Cmd       string // "execute" (default) | "close"
	TimeoutMs uint32
}

// DefaultTimeoutMs is used when a caller does not specify one, matching
// the original's 3000ms default.
const DefaultTimeoutMs = 3000

// Executor owns every backend pool, keyed by dbpool.Key.
type Executor struct {
	mu      sync.Mutex
	pools   map[dbpool.Key]*dbpool.Pool
	metrics *metrics.Collector
}

// New returns an empty executor.
func New() *Executor {
	return &Executor{pools: make(map[dbpool.Key]*dbpool.Pool)}
}

// NewWithMetrics is New, additionally recording gateway_acquire_duration_seconds
// and gateway_pool_exhausted_total against m. m may be nil.
func NewWithMetrics(m *metrics.Collector) *Executor {
	return &Executor{pools: make(map[dbpool.Key]*dbpool.Pool), metrics: m}
}

// InitializeFromConfig builds one pool per entry in cfg.Databases, keyed
// by (type, ident). A later duplicate key overwrites the earlier pool's
// map entry (the earlier pool itself is left running, matching the
// original's unconditional emplace/overwrite).
func (e *Executor) InitializeFromConfig(ctx context.Context, cfg *config.DatabaseConfig) error {
	for _, db := range cfg.Databases {
		key, dial, err := dialerFor(db)
		if err != nil {
			return err
		}

		pool := dbpool.New(db.Pool.EffectiveSize(), dial)
		if err := pool.Initialize(ctx); err != nil {
			return fmt.Errorf("dbexec: initializing pool %s: %w", key, err)
		}

		e.mu.Lock()
		e.pools[key] = pool
		e.mu.Unlock()

		slog.Info("db pool created", "type", key.Type, "ident", key.Ident, "size", db.Pool.EffectiveSize())
	}
	return nil
}

// Reload reconciles the executor's live pools against a freshly loaded
// config: pools keyed by an entry no longer present are closed and
// forgotten, pools for a key that is still present are left running
// untouched (resizing an in-flight pool is not supported), and pools for
// a newly-added key are created and initialized. Mirrors the teacher's
// Router.Reload swap, adapted from a single atomic snapshot swap (the
// router's tenant table is pure config data) to a real teardown/create
// sequence, since a dbpool.Pool holds live backend connections that a
// snapshot swap cannot simply discard.
func (e *Executor) Reload(ctx context.Context, cfg *config.DatabaseConfig) error {
	wanted := make(map[dbpool.Key]config.DatabaseEntry, len(cfg.Databases))
	for _, db := range cfg.Databases {
		key, _, err := dialerFor(db)
		if err != nil {
			return err
		}
		wanted[key] = db
	}

	e.mu.Lock()
	var stale []dbpool.Key
	for key := range e.pools {
		if _, ok := wanted[key]; !ok {
			stale = append(stale, key)
		}
	}
	e.mu.Unlock()

	for _, key := range stale {
		e.mu.Lock()
		pool := e.pools[key]
		delete(e.pools, key)
		e.mu.Unlock()
		if pool != nil {
			pool.CloseAll()
		}
		if e.metrics != nil {
			e.metrics.RemovePool(key.Type, key.Ident)
		}
		slog.Info("db pool removed on reload", "type", key.Type, "ident", key.Ident)
	}

	for key, db := range wanted {
		e.mu.Lock()
		_, exists := e.pools[key]
		e.mu.Unlock()
		if exists {
			continue
		}

		_, dial, err := dialerFor(db)
		if err != nil {
			return err
		}
		pool := dbpool.New(db.Pool.EffectiveSize(), dial)
		if err := pool.Initialize(ctx); err != nil {
			return fmt.Errorf("dbexec: initializing pool %s on reload: %w", key, err)
		}

		e.mu.Lock()
		e.pools[key] = pool
		e.mu.Unlock()
		slog.Info("db pool added on reload", "type", key.Type, "ident", key.Ident, "size", db.Pool.EffectiveSize())
	}

	return nil
}

func dialerFor(db config.DatabaseEntry) (dbpool.Key, dbpool.Dialer, error) {
	switch db.Type {
	case "mysql":
		key := dbpool.Key{Type: "mysql", Ident: fmt.Sprintf("%s:%d/%s", db.Host, db.Port, db.Database)}
		return key, dbpool.MySQLDialer(db.Host, db.Port, db.User, db.Password, db.Database), nil
	case "sqlite":
		key := dbpool.Key{Type: "sqlite", Ident: db.Path}
		return key, dbpool.SQLiteDialer(db.Path), nil
	default:
		return dbpool.Key{}, nil, fmt.Errorf("dbexec: unsupported database type %q", db.Type)
	}
}

// ExecuteRequest resolves req.Key's pool, runs req.SQL (or tears the pool
// down for Cmd=="close"), and always releases the connection it
// acquired.
func (e *Executor) ExecuteRequest(ctx context.Context, req Request) dbpool.Result {
	pool := e.lookup(req.Key)
	if pool == nil {
		slog.Warn("db pool not found", "key", req.Key)
		return dbpool.Result{Success: false, ErrorMsg: "Connection pool not found"}
	}

	if req.Cmd == "close" {
		pool.CloseAll()
		e.mu.Lock()
		delete(e.pools, req.Key)
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RemovePool(req.Key.Type, req.Key.Ident)
		}
		return dbpool.Result{Success: true, Kind: "ok"}
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}

	acquireStart := time.Now()
	conn, err := pool.Acquire(ctx, time.Duration(timeoutMs)*time.Millisecond)
	if e.metrics != nil {
		e.metrics.AcquireDuration(req.Key.Type, req.Key.Ident, time.Since(acquireStart))
	}
	if err != nil {
		slog.Warn("db acquire timeout", "key", req.Key)
		if e.metrics != nil {
			e.metrics.PoolExhausted(req.Key.Type, req.Key.Ident)
		}
		return dbpool.Result{Success: false, ErrorMsg: "Acquire connection timeout"}
	}

	var result dbpool.Result
	ok, execErr := conn.Execute(ctx, req.SQL, &result)
	if execErr != nil {
		pool.Discard(conn)
		return dbpool.Result{Success: false, ErrorMsg: execErr.Error()}
	}
	pool.Release(conn)
	result.Success = ok
	return result
}

func (e *Executor) lookup(key dbpool.Key) *dbpool.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools[key]
}

// PoolStats is one pool's key paired with its current Stats snapshot, for
// the admin API's /pools endpoint.
type PoolStats struct {
	Key   dbpool.Key
	Stats dbpool.Stats
}

// Snapshot returns a Stats snapshot for every live pool.
func (e *Executor) Snapshot() []PoolStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PoolStats, 0, len(e.pools))
	for key, pool := range e.pools {
		out = append(out, PoolStats{Key: key, Stats: pool.Stats()})
	}
	return out
}

// TestOnlySetPool installs pool directly under key, bypassing
// InitializeFromConfig. Exported only for other packages' tests that
// need a pool wired with a fake dialer.
func (e *Executor) TestOnlySetPool(key dbpool.Key, pool *dbpool.Pool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools[key] = pool
}

// Shutdown closes every pool and forgets it.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, pool := range e.pools {
		pool.CloseAll()
		delete(e.pools, key)
	}
}
