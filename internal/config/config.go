// Package config manages YAML-based configuration, CLI flags, and workspace settings.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CageChen/entrytree/internal/retry"
	"github.com/CageChen/entrytree/internal/walker"
)

// Backend types accepted in a workspace definition.
const (
	BackendLocal  = "local"
	BackendGit    = "git"
	BackendS3     = "s3"
	BackendSQL    = "sql"
	BackendMemory = "memory"
)

// S3 holds the connection settings of an s3 workspace.
type S3 struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty" json:"use_ssl,omitempty"`
}

// SQL holds the connection settings of a sql workspace.
type SQL struct {
	Driver string `yaml:"driver" json:"driver"` // postgres or duckdb
	DSN    string `yaml:"dsn" json:"dsn"`
}

// Seed is an entry preloaded into a memory workspace.
type Seed struct {
	Path string `yaml:"path" json:"path"`
	Size uint64 `yaml:"size,omitempty" json:"size,omitempty"`
	Dir  bool   `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Workspace is one named storage root served by the engine.
type Workspace struct {
	Name    string   `yaml:"name" json:"name"`
	Backend string   `yaml:"backend" json:"backend"`
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	GitRef  string   `yaml:"git_ref,omitempty" json:"git_ref,omitempty"`
	Confine []string `yaml:"confine,omitempty" json:"confine,omitempty"`
	S3      *S3      `yaml:"s3,omitempty" json:"s3,omitempty"`
	SQL     *SQL     `yaml:"sql,omitempty" json:"sql,omitempty"`
	Seed    []Seed   `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Config holds all configuration options for the entrytree server
type Config struct {
	Port      int    `yaml:"port"`
	Watch     bool   `yaml:"watch"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Metrics   bool   `yaml:"metrics"`

	Limits walker.Limits `yaml:"limits"`
	Retry  retry.Config  `yaml:"retry"`

	// How long a cached tree of a watched workspace may be served; 0 keeps it
	// until the watcher reports a change
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Global confinement patterns, applied to every local workspace
	Confine []string `yaml:"confine"`

	Workspaces []Workspace `yaml:"workspaces"`

	// Internal: path to config file for saving
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Port:      8080,
		Watch:     true,
		LogLevel:  "info",
		LogFormat: "console",
		Metrics:   true,
		Limits:    walker.DefaultLimits(),
		Retry:     retry.DefaultConfig(),
		CacheTTL:  5 * time.Minute,
		Confine:   []string{".git", "node_modules", ".svn"},
	}
}

// GetConfigDir returns the config directory path
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/entrytree"
	}
	return filepath.Join(home, ".config", "entrytree")
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from file and command line flags
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument list.
func LoadArgs(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// Filter out 'serve' subcommand if present
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}

	fs := flag.NewFlagSet("entrytree", flag.ContinueOnError)
	path := fs.String("path", "", "Serve a single local directory as the only workspace")
	port := fs.Int("port", 0, "HTTP server port")
	watch := fs.Bool("watch", true, "Enable file watching for local workspaces")
	logLevel := fs.String("log-level", "", "Log level (debug/info/warn/error)")
	logFormat := fs.String("log-format", "", "Log format (json/console)")
	depth := fs.Int("depth", -1, "Default maximum folder depth of a tree walk")
	files := fs.Int("files", 0, "Default maximum number of files of a tree walk")
	configFile := fs.String("config", "", "Configuration file path")

	fs.StringVar(path, "p", "", "Serve a single local directory (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Determine config file path
	var cfgPath string
	if *configFile != "" {
		cfgPath = *configFile
	} else {
		// Try ~/.config/entrytree/config.yaml first
		globalConfig := GetConfigPath()
		if _, err := os.Stat(globalConfig); err == nil {
			cfgPath = globalConfig
		} else if _, err := os.Stat("entrytree.yaml"); err == nil {
			cfgPath = "entrytree.yaml"
		}
	}

	if cfgPath != "" {
		if err := cfg.loadFromFile(cfgPath); err != nil && *configFile != "" {
			// Only return error if user explicitly specified config file
			return nil, err
		}
		cfg.configPath = cfgPath
	} else {
		cfg.configPath = GetConfigPath()
	}

	// Command line flags override config file (only if explicitly set)
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *path != "" {
		// CLI --path replaces the saved workspaces
		cfg.Workspaces = []Workspace{{Backend: BackendLocal, Path: *path}}
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if set["watch"] {
		cfg.Watch = *watch
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if set["depth"] {
		cfg.Limits.MaxDepth = *depth
	}
	if set["files"] {
		cfg.Limits.MaxFiles = *files
	}

	cfg.normalizeWorkspaces()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeWorkspaces fills in default backends and names and resolves
// local paths to absolute ones.
func (c *Config) normalizeWorkspaces() {
	for i := range c.Workspaces {
		ws := &c.Workspaces[i]
		if ws.Backend == "" {
			ws.Backend = BackendLocal
		}
		if (ws.Backend == BackendLocal || ws.Backend == BackendGit) && ws.Path != "" {
			if absPath, err := filepath.Abs(ws.Path); err == nil {
				ws.Path = absPath
			}
		}
		if ws.Name == "" {
			ws.Name = defaultName(*ws)
		}
	}
}

func defaultName(ws Workspace) string {
	switch {
	case ws.Backend == BackendS3 && ws.S3 != nil:
		return ws.S3.Bucket
	case ws.Path != "":
		name := filepath.Base(ws.Path)
		if ws.GitRef != "" {
			name += "@" + ws.GitRef
		}
		return name
	default:
		return ws.Backend
	}
}

// Validate checks limits and workspace definitions.
func (c *Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must be >= 0, got %s", c.CacheTTL)
	}
	seen := make(map[string]bool)
	for _, ws := range c.Workspaces {
		if ws.Name == "" {
			return fmt.Errorf("workspace without a name")
		}
		if seen[ws.Name] {
			return fmt.Errorf("duplicate workspace name %q", ws.Name)
		}
		seen[ws.Name] = true

		switch ws.Backend {
		case BackendLocal, BackendGit:
			if ws.Path == "" {
				return fmt.Errorf("workspace %q: path is required for %s backend", ws.Name, ws.Backend)
			}
		case BackendS3:
			if ws.S3 == nil || ws.S3.Bucket == "" {
				return fmt.Errorf("workspace %q: s3.bucket is required", ws.Name)
			}
		case BackendSQL:
			if ws.SQL == nil || ws.SQL.Driver == "" || (ws.SQL.DSN == "" && ws.SQL.Driver != "duckdb") {
				return fmt.Errorf("workspace %q: sql.driver and sql.dsn are required", ws.Name)
			}
		case BackendMemory:
		default:
			return fmt.Errorf("workspace %q: unknown backend %q", ws.Name, ws.Backend)
		}
	}
	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Save saves the current configuration to the config file
func (c *Config) Save() error {
	// Ensure config directory exists
	configDir := filepath.Dir(c.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.configPath, data, 0644)
}

// AddWorkspace appends a workspace, filling in its defaults, and returns the
// stored definition.
func (c *Config) AddWorkspace(ws Workspace) (Workspace, error) {
	c.Workspaces = append(c.Workspaces, ws)
	c.normalizeWorkspaces()
	if err := c.Validate(); err != nil {
		c.Workspaces = c.Workspaces[:len(c.Workspaces)-1]
		return Workspace{}, err
	}
	return c.Workspaces[len(c.Workspaces)-1], nil
}

// RemoveWorkspace removes the workspace with the given name.
func (c *Config) RemoveWorkspace(name string) bool {
	for i, ws := range c.Workspaces {
		if ws.Name == name {
			c.Workspaces = append(c.Workspaces[:i], c.Workspaces[i+1:]...)
			return true
		}
	}
	return false
}

// GetConfigFilePath returns the path to the config file
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}
