package coordkit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jvs-project/coordkit/pkg/config"
	"github.com/jvs-project/coordkit/pkg/filelock"
	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/retry"
	"github.com/jvs-project/coordkit/pkg/sharedmap"
	"github.com/jvs-project/coordkit/pkg/ttlcache"
)

// Client provides the coordination primitives rooted at one directory.
type Client struct {
	root    string
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Registry
	locks   *filelock.Manager
	maps    *sharedmap.Store
	cache   *ttlcache.Cache[json.RawMessage]
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Config replaces the config file under root when set.
	Config *config.Config
	// Logger replaces the logger built from the config.
	Logger *logging.Logger
	// LogOutput is where the config-built logger writes; default stderr.
	LogOutput io.Writer
}

// Open loads the configuration under root and builds a client.
func Open(root string) (*Client, error) {
	return OpenWithOptions(root, OpenOptions{})
}

// OpenWithOptions builds a client with explicit overrides.
func OpenWithOptions(root string, opts OpenOptions) (*Client, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.Load(abs)
		if err != nil {
			return nil, fmt.Errorf("coordkit open: %w", err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordkit open: %w", err)
	}

	log := opts.Logger
	if log == nil {
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		log = logging.New(level, logging.Format(cfg.Logging.Format), out)
	}

	reg := metrics.NewRegistry()
	locks := filelock.NewManager(cfg.LocksDir(abs), cfg.LockPolicy(),
		filelock.WithLogger(log), filelock.WithMetrics(reg))
	maps := sharedmap.New(cfg.MapsDir(abs), locks,
		sharedmap.WithLogger(log), sharedmap.WithMetrics(reg))

	return &Client{
		root:    abs,
		cfg:     cfg,
		log:     log,
		metrics: reg,
		locks:   locks,
		maps:    maps,
		cache:   ttlcache.New[json.RawMessage](ttlcache.WithMetrics(reg)),
	}, nil
}

// Root returns the absolute root directory.
func (c *Client) Root() string { return c.root }

// Config returns the effective configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// StateDir returns the directory holding locks and maps.
func (c *Client) StateDir() string { return c.cfg.StatePath(c.root) }

// Logger returns the client's logger.
func (c *Client) Logger() *logging.Logger { return c.log }

// Metrics returns the client's metrics registry.
func (c *Client) Metrics() *metrics.Registry { return c.metrics }

// Locks returns the expiring file lock manager.
func (c *Client) Locks() *filelock.Manager { return c.locks }

// Maps returns the shared map store.
func (c *Client) Maps() *sharedmap.Store { return c.maps }

// Cache returns the client's TTL cache of raw JSON values. Typed callers
// usually build their own with NewCache.
func (c *Client) Cache() *ttlcache.Cache[json.RawMessage] { return c.cache }

// RetryDefaults returns the configured retry settings, wired to the
// client's logger and metrics.
func (c *Client) RetryDefaults() retry.Defaults {
	backoff, _ := model.ParseBackoffKind(c.cfg.Retry.Backoff)
	return retry.Defaults{
		Delay:       c.cfg.Retry.Delay.Std(),
		Backoff:     backoff,
		MaxDuration: c.cfg.Retry.MaxDuration.Std(),
		Logger:      c.log,
		Metrics:     c.metrics,
	}
}

// NewCache builds a typed TTL cache that reports to c's metrics.
func NewCache[V any](c *Client) *ttlcache.Cache[V] {
	return ttlcache.New[V](ttlcache.WithMetrics(c.metrics))
}

// CacheValidFor is the configured default validity for cache entries.
func (c *Client) CacheValidFor() time.Duration {
	return c.cfg.Cache.DefaultValidFor.Std()
}
