// Package config implements the simulation configuration file format and
// its hot-reload loop. Loading and validation follow the teacher's
// RuntimeConfigManager shape (yaml.v3 unmarshal, checksum-gated change
// detection); the hot-reload watch loop follows HotReloadSystem and reports
// only operator-facing knobs (log verbosity, default timeouts) on its change
// channel. A reload replaces the Manager's whole configuration, plugin list
// included; a simulation already built from an earlier Current copy keeps
// its own plugin topology.
package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PathStyle controls how a plugin's spawn path is recorded in the
// reproduction log.
type PathStyle string

const (
	PathKeep     PathStyle = "keep"
	PathAbsolute PathStyle = "absolute"
	PathRelCWD   PathStyle = "relative_to_cwd"
)

// PluginConfig describes one plugin's spawn and initialization.
type PluginConfig struct {
	Type            string            `yaml:"type"` // "frontend" | "operator" | "backend"
	Name            string            `yaml:"name"`
	Path            string            `yaml:"path"`
	PathStyle       PathStyle         `yaml:"path_style"`
	Args            []string          `yaml:"args"`
	Env             map[string]string `yaml:"env"`
	WorkingDir      string            `yaml:"working_dir"`
	AcceptTimeout   time.Duration     `yaml:"accept_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Verbosity       string            `yaml:"verbosity"`
}

// SimulationConfig is the whole simulation configuration document: seed,
// ordered plugin list, and reproduction/logging policy.
type SimulationConfig struct {
	Version          string         `yaml:"version"`
	Seed             uint64         `yaml:"seed"`
	Plugins          []PluginConfig `yaml:"plugins"`
	ReproductionPath string         `yaml:"reproduction_path"`
	LogVerbosity     string         `yaml:"log_verbosity"`
	DefaultAccept    time.Duration  `yaml:"default_accept_timeout"`
	DefaultShutdown  time.Duration  `yaml:"default_shutdown_timeout"`
	UpdatedAt        time.Time      `yaml:"updated_at"`
	Checksum         string         `yaml:"checksum"`
}

// Defaults returns a SimulationConfig with the runtime's five-second
// default timeouts and no plugins.
func Defaults() SimulationConfig {
	return SimulationConfig{
		Version:         "1",
		DefaultAccept:   5 * time.Second,
		DefaultShutdown: 5 * time.Second,
		LogVerbosity:    "info",
	}
}

// Validate checks structural invariants: frontend first, backend last,
// non-empty plugin list, unique names.
func (c *SimulationConfig) Validate() error {
	if len(c.Plugins) < 2 {
		return fmt.Errorf("simulation requires at least a frontend and a backend")
	}
	if c.Plugins[0].Type != "frontend" {
		return fmt.Errorf("first plugin must be a frontend, got %q", c.Plugins[0].Type)
	}
	if c.Plugins[len(c.Plugins)-1].Type != "backend" {
		return fmt.Errorf("last plugin must be a backend, got %q", c.Plugins[len(c.Plugins)-1].Type)
	}
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins[1 : len(c.Plugins)-1] {
		if p.Type != "operator" {
			return fmt.Errorf("plugin %d between frontend and backend must be an operator, got %q", i+1, p.Type)
		}
	}
	for _, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugin of type %s requires a name", p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate plugin name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Manager owns the on-disk configuration, its checksum, and validation.
type Manager struct {
	path string
	mu   sync.RWMutex
	cur  SimulationConfig
}

// NewManager returns a Manager that reads its configuration from path.
func NewManager(path string) *Manager {
	return &Manager{path: path, cur: Defaults()}
}

// Load reads and validates the configuration file, leaving defaults in
// place if it does not yet exist.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.cur = Defaults()
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read simulation config: %w", err)
	}
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse simulation config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate simulation config: %w", err)
	}
	m.cur = cfg
	return nil
}

// Current returns a copy of the loaded configuration.
func (m *Manager) Current() SimulationConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

func (m *Manager) checksum(cfg SimulationConfig) string {
	cfg.Checksum = ""
	data, _ := json.Marshal(cfg)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// OperatorOverride is the subset of SimulationConfig a hot-reload may
// change without restarting an in-flight simulation.
type OperatorOverride struct {
	LogVerbosity    string
	DefaultAccept   time.Duration
	DefaultShutdown time.Duration
}

// ApplyOverride updates only the operator-facing knobs in place.
func (m *Manager) ApplyOverride(o OperatorOverride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.LogVerbosity != "" {
		m.cur.LogVerbosity = o.LogVerbosity
	}
	if o.DefaultAccept > 0 {
		m.cur.DefaultAccept = o.DefaultAccept
	}
	if o.DefaultShutdown > 0 {
		m.cur.DefaultShutdown = o.DefaultShutdown
	}
}

// Watcher hot-reloads the configuration file into its Manager and reports
// the operator-facing knobs of each change. It does not reach into an
// already-spawned simulation, which holds its own copy of the configuration.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	started bool
}

// NewWatcher builds a Watcher over manager's file.
func NewWatcher(manager *Manager) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config file watcher: %w", err)
	}
	return &Watcher{manager: manager, watcher: w}, nil
}

// Run watches the configuration file until ctx is done. On each write it
// reloads the whole file through Manager.Load (every field, plugin list
// included, not only the operator-facing knobs) and, whenever the reloaded
// configuration's checksum changes, delivers its operator-facing knobs on
// the returned channel.
func (w *Watcher) Run(ctx context.Context) (<-chan OperatorOverride, <-chan error) {
	changes := make(chan OperatorOverride, 4)
	errs := make(chan error, 4)

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		close(changes)
		close(errs)
		return changes, errs
	}
	w.started = true
	dir := filepath.Dir(w.manager.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- fmt.Errorf("watch config dir %s: %w", dir, err)
		close(changes)
		close(errs)
		return changes, errs
	}
	w.mu.Unlock()

	go func() {
		defer close(changes)
		defer close(errs)
		lastChecksum := w.manager.checksum(w.manager.Current())
		for {
			select {
			case e, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != filepath.Clean(w.manager.path) {
					continue
				}
				if e.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				if err := w.manager.Load(); err != nil {
					errs <- err
					continue
				}
				cur := w.manager.Current()
				checksum := w.manager.checksum(cur)
				if checksum == lastChecksum {
					continue
				}
				lastChecksum = checksum
				changes <- OperatorOverride{
					LogVerbosity:    cur.LogVerbosity,
					DefaultAccept:   cur.DefaultAccept,
					DefaultShutdown: cur.DefaultShutdown,
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return changes, errs
}

// Stop closes the underlying file watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	return w.watcher.Close()
}
