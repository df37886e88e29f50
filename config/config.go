// Package config provides configuration loading and management for autobrancher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendKV     = "kv"
	BackendSQLite = "sqlite"
)

// Config represents the complete autobrancher configuration
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Reference ReferenceConfig `yaml:"reference"`
	Routing   RoutingConfig   `yaml:"routing"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Branch    BranchConfig    `yaml:"branch"`
	Script    ScriptConfig    `yaml:"script"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Watch     WatchConfig     `yaml:"watch"`
}

// StoreConfig configures where documents are read from
type StoreConfig struct {
	// Root is the document tree root; also the git working tree for branch output
	Root string `yaml:"root"`
	// Backend is "file" (default), "kv" or "sqlite"
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend and publish target,
	// relative to the store root unless absolute
	SQLitePath string `yaml:"sqlite_path"`
	// Pattern selects documents inside a collection directory (file backend)
	Pattern string `yaml:"pattern"`
	// ProtocolCollection holds the root protocol documents
	ProtocolCollection string `yaml:"protocol_collection"`
}

// ReferenceConfig configures token extraction
type ReferenceConfig struct {
	// Mode is "strict" (bare identifiers) or "loose" (historical greedy capture)
	Mode string `yaml:"mode"`
}

// RoutingConfig configures model routing
type RoutingConfig struct {
	ValidateCollection string `yaml:"validate_collection"`
	Variable           string `yaml:"variable"`
	MappingCollection  string `yaml:"mapping_collection"`
	MappingDocument    string `yaml:"mapping_document"`
	// Guard is "textual" or "expr"
	Guard string `yaml:"guard"`
}

// ProfilesConfig configures resource profile matching
type ProfilesConfig struct {
	Collection string `yaml:"collection"`
	// Match is "contains", "contained" or "either"
	Match string `yaml:"match"`
}

// BranchConfig configures the branch backend
type BranchConfig struct {
	Template string `yaml:"template"`
	Prefix   string `yaml:"prefix"`
}

// ScriptConfig configures the script backend
type ScriptConfig struct {
	// Dir is the output directory, relative to the store root unless absolute
	Dir string `yaml:"dir"`
}

// NATSConfig configures the NATS connection used by the kv backend and publish
type NATSConfig struct {
	URL          string `yaml:"url"`
	BucketPrefix string `yaml:"bucket_prefix"`
	History      uint8  `yaml:"history"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics in watch mode (empty = disabled)
	Addr string `yaml:"addr"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Root:               "",
			Backend:            BackendFile,
			Pattern:            "*.json",
			SQLitePath:         "documents.db",
			ProtocolCollection: "protocol",
		},
		Reference: ReferenceConfig{
			Mode: "strict",
		},
		Routing: RoutingConfig{
			ValidateCollection: "validateCommand",
			Variable:           "@VAR.modelName",
			MappingCollection:  "condition",
			MappingDocument:    "cd_mapModelResponse",
			Guard:              "textual",
		},
		Profiles: ProfilesConfig{
			Collection: "resource_profile",
			Match:      "either",
		},
		Branch: BranchConfig{
			Template: "template",
			Prefix:   "feature/api_",
		},
		Script: ScriptConfig{
			Dir: "dist",
		},
		NATS: NATSConfig{
			History: 5,
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
	case BackendKV:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the kv backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be %q, %q or %q, got %q",
			BackendFile, BackendKV, BackendSQLite, c.Store.Backend)
	}
	if c.Store.ProtocolCollection == "" {
		return fmt.Errorf("store.protocol_collection is required")
	}
	switch c.Reference.Mode {
	case "strict", "loose":
	default:
		return fmt.Errorf("reference.mode must be strict or loose, got %q", c.Reference.Mode)
	}
	if c.Routing.ValidateCollection == "" || c.Routing.MappingCollection == "" || c.Routing.MappingDocument == "" {
		return fmt.Errorf("routing collections and mapping document are required")
	}
	if c.Routing.Variable == "" {
		return fmt.Errorf("routing.variable is required")
	}
	switch c.Routing.Guard {
	case "textual", "expr":
	default:
		return fmt.Errorf("routing.guard must be textual or expr, got %q", c.Routing.Guard)
	}
	if c.Profiles.Collection == "" {
		return fmt.Errorf("profiles.collection is required")
	}
	switch c.Profiles.Match {
	case "contains", "contained", "either":
	default:
		return fmt.Errorf("profiles.match must be contains, contained or either, got %q", c.Profiles.Match)
	}
	if c.Branch.Template == "" {
		return fmt.Errorf("branch.template is required")
	}
	if c.Script.Dir == "" {
		return fmt.Errorf("script.dir is required")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

// ScriptDir returns the script output directory resolved against the store root.
func (c *Config) ScriptDir() string {
	if filepath.IsAbs(c.Script.Dir) {
		return c.Script.Dir
	}
	return filepath.Join(c.Store.Root, c.Script.Dir)
}

// SQLitePath returns the sqlite database path resolved against the store root.
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath == ":memory:" || filepath.IsAbs(c.Store.SQLitePath) {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.Store.Root, c.Store.SQLitePath)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Store
	mergeString(&c.Store.Root, other.Store.Root)
	mergeString(&c.Store.Backend, other.Store.Backend)
	mergeString(&c.Store.Pattern, other.Store.Pattern)
	mergeString(&c.Store.SQLitePath, other.Store.SQLitePath)
	mergeString(&c.Store.ProtocolCollection, other.Store.ProtocolCollection)

	// Reference
	mergeString(&c.Reference.Mode, other.Reference.Mode)

	// Routing
	mergeString(&c.Routing.ValidateCollection, other.Routing.ValidateCollection)
	mergeString(&c.Routing.Variable, other.Routing.Variable)
	mergeString(&c.Routing.MappingCollection, other.Routing.MappingCollection)
	mergeString(&c.Routing.MappingDocument, other.Routing.MappingDocument)
	mergeString(&c.Routing.Guard, other.Routing.Guard)

	// Profiles
	mergeString(&c.Profiles.Collection, other.Profiles.Collection)
	mergeString(&c.Profiles.Match, other.Profiles.Match)

	// Branch
	mergeString(&c.Branch.Template, other.Branch.Template)
	mergeString(&c.Branch.Prefix, other.Branch.Prefix)

	// Script
	mergeString(&c.Script.Dir, other.Script.Dir)

	// NATS
	mergeString(&c.NATS.URL, other.NATS.URL)
	mergeString(&c.NATS.BucketPrefix, other.NATS.BucketPrefix)
	if other.NATS.History != 0 {
		c.NATS.History = other.NATS.History
	}

	// Metrics
	mergeString(&c.Metrics.Addr, other.Metrics.Addr)

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
