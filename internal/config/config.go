/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config loads and validates FlyDB's configuration, including the
fields that drive the embedded replication engine: the local node id,
its Raft advertise address, the seed peer list, durable-storage
directory, and consensus timing.

Configuration is a flat "key = value" file (comments start with '#',
string values may be quoted), overridable by environment variables,
matching flydb.conf today.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvPort          = "FLYDB_PORT"
	EnvRole          = "FLYDB_ROLE"
	EnvLogLevel      = "FLYDB_LOG_LEVEL"
	EnvLogJSON       = "FLYDB_LOG_JSON"
	EnvAdminPassword = "FLYDB_ADMIN_PASSWORD"
	EnvNodeID        = "FLYDB_NODE_ID"
	EnvRaftAddr      = "FLYDB_RAFT_ADDR"
)

// Config holds a FlyDB node's full configuration, including the
// replication engine's settings.
type Config struct {
	Port       int    `json:"port"`
	BinaryPort int    `json:"binary_port"`
	ReplPort   int    `json:"replication_port"`
	Role       string `json:"role"`
	MasterAddr string `json:"master_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	LogJSON    bool   `json:"log_json"`

	AdminPassword string `json:"admin_password,omitempty"`

	// ConfigFile is the path this Config was loaded from, if any.
	ConfigFile string `json:"-"`

	// Replication engine settings (§6 module-load argv, §4.3/§4.4).
	NodeID               string        `json:"node_id"`
	RaftAddr             string        `json:"raft_addr"`
	Peers                []string      `json:"peers"`
	RaftDataDir          string        `json:"raft_data_dir"`
	RaftHeartbeat        time.Duration `json:"raft_heartbeat"`
	RaftElectionTimeout  time.Duration `json:"raft_election_timeout"`
	CommitTimeout        time.Duration `json:"commit_timeout"`
	SnapshotThreshold    uint64        `json:"snapshot_threshold"`
	MigrationDialTimeout time.Duration `json:"migration_dial_timeout"`
	CompressionAlgo      string        `json:"compression_algo"`
}

// DefaultConfig returns a Config with FlyDB's standalone defaults plus
// sensible replication-engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:       8888,
		BinaryPort: 8889,
		ReplPort:   9999,
		Role:       "standalone",
		DBPath:     "flydb.wal",
		LogLevel:   "info",
		LogJSON:    false,

		RaftAddr:             "127.0.0.1:9998",
		RaftDataDir:          "./data/raft",
		RaftHeartbeat:        150 * time.Millisecond,
		RaftElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:        50 * time.Millisecond,
		SnapshotThreshold:    8192,
		MigrationDialTimeout: 5 * time.Second,
		CompressionAlgo:      "snappy",
	}
}

var validRoles = map[string]bool{"standalone": true, "master": true, "slave": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks structural invariants on the config. It does not
// consult any external state (network, filesystem).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.BinaryPort <= 0 || c.BinaryPort > 65535 {
		return fmt.Errorf("config: invalid binary_port %d", c.BinaryPort)
	}
	if c.BinaryPort == c.Port {
		return fmt.Errorf("config: port and binary_port must differ")
	}
	if !validRoles[c.Role] {
		return fmt.Errorf("config: invalid role %q", c.Role)
	}
	if c.Role == "slave" && c.MasterAddr == "" {
		return fmt.Errorf("config: role slave requires master_addr")
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ToTOML renders the config as "key = value" lines.
func (c *Config) ToTOML() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "role = %q\n", c.Role)
	fmt.Fprintf(&sb, "port = %d\n", c.Port)
	fmt.Fprintf(&sb, "binary_port = %d\n", c.BinaryPort)
	fmt.Fprintf(&sb, "replication_port = %d\n", c.ReplPort)
	if c.MasterAddr != "" {
		fmt.Fprintf(&sb, "master_addr = %q\n", c.MasterAddr)
	}
	fmt.Fprintf(&sb, "db_path = %q\n", c.DBPath)
	fmt.Fprintf(&sb, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&sb, "log_json = %t\n", c.LogJSON)
	if c.NodeID != "" {
		fmt.Fprintf(&sb, "node_id = %q\n", c.NodeID)
	}
	if c.RaftAddr != "" {
		fmt.Fprintf(&sb, "raft_addr = %q\n", c.RaftAddr)
	}
	if len(c.Peers) > 0 {
		fmt.Fprintf(&sb, "peers = %q\n", strings.Join(c.Peers, ","))
	}
	return sb.String()
}

// String renders a human-readable summary, used for startup banners.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Role: %s\n", c.Role)
	fmt.Fprintf(&sb, "Port: %d\n", c.Port)
	fmt.Fprintf(&sb, "BinaryPort: %d\n", c.BinaryPort)
	fmt.Fprintf(&sb, "ReplPort: %d\n", c.ReplPort)
	fmt.Fprintf(&sb, "DBPath: %s\n", c.DBPath)
	fmt.Fprintf(&sb, "LogLevel: %s\n", c.LogLevel)
	fmt.Fprintf(&sb, "NodeID: %s\n", c.NodeID)
	fmt.Fprintf(&sb, "RaftAddr: %s\n", c.RaftAddr)
	return sb.String()
}

// SaveToFile writes the config's ToTOML rendering to path, creating
// parent directories as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

// Manager owns a live Config, supporting reload from the file it was
// loaded from and reload-completion callbacks.
type Manager struct {
	mu    sync.RWMutex
	cfg   *Config
	path  string
	hooks []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current config. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LoadFromFile parses path and merges its values into the current
// config, remembering path for Reload.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if err := applyFileLines(&cfg, string(data)); err != nil {
		return err
	}
	cfg.ConfigFile = path
	m.cfg = &cfg
	m.path = path
	return nil
}

func applyFileLines(cfg *Config, content string) error {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return fmt.Errorf("config: malformed line %q", line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		val = strings.Trim(val, `"`)

		if err := applyField(cfg, key, val); err != nil {
			return err
		}
	}
	return nil
}

func applyField(cfg *Config, key, val string) error {
	switch key {
	case "role":
		cfg.Role = val
	case "port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: invalid port %q", val)
		}
		cfg.Port = n
	case "binary_port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: invalid binary_port %q", val)
		}
		cfg.BinaryPort = n
	case "replication_port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: invalid replication_port %q", val)
		}
		cfg.ReplPort = n
	case "master_addr":
		cfg.MasterAddr = val
	case "db_path":
		cfg.DBPath = val
	case "log_level":
		cfg.LogLevel = val
	case "log_json":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("config: invalid log_json %q", val)
		}
		cfg.LogJSON = b
	case "admin_password":
		cfg.AdminPassword = val
	case "node_id":
		cfg.NodeID = val
	case "raft_addr":
		cfg.RaftAddr = val
	case "peers":
		if val == "" {
			cfg.Peers = nil
		} else {
			cfg.Peers = strings.Split(val, ",")
		}
	case "raft_data_dir":
		cfg.RaftDataDir = val
	case "compression_algo":
		cfg.CompressionAlgo = val
	default:
		// unknown keys are ignored, matching a forward-compatible
		// config file format
	}
	return nil
}

// LoadFromEnv overlays environment variables onto the current config.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := *m.cfg
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv(EnvRole); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvRaftAddr); v != "" {
		cfg.RaftAddr = v
	}
	m.cfg = &cfg
}

// OnReload registers a callback invoked after a successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Reload re-reads the file this Manager was last loaded from and
// invokes any registered reload hooks.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config: no file to reload")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}

	m.mu.RLock()
	cfg := m.cfg
	hooks := append([]func(*Config){}, m.hooks...)
	m.mu.RUnlock()

	for _, h := range hooks {
		h(cfg)
	}
	return nil
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager singleton.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
