package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for snapkeep.
type Config struct {
	InstallID   string          `toml:"install_id"`
	StorageRoot string          `toml:"storage_root"`
	LogDir      string          `toml:"log_dir"`
	Cooldown    CooldownConfig  `toml:"cooldown"`
	Audit       AuditConfig     `toml:"audit"`
	Catalog     CatalogConfig   `toml:"catalog"`
	GC          GCConfig        `toml:"gc"`
	Workspace   WorkspaceConfig `toml:"workspace"`
	Export      ExportConfig    `toml:"export"`
}

// CooldownConfig controls the in-memory cooldown cache.
type CooldownConfig struct {
	SweepInterval   Duration `toml:"sweep_interval"`
	DefaultDuration Duration `toml:"default_duration"`
}

// AuditConfig controls audit log rotation.
type AuditConfig struct {
	MaxBytes int64 `toml:"max_bytes"` // rotate once the live log exceeds this size
}

// CatalogConfig represents configuration for the snapshot catalog.
// The Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type string `toml:"type"`           // "sqlite" (default), "memory", or "none"
	Path string `toml:"path,omitempty"` // only used for type=sqlite; defaults to <storage_root>/catalog.db
}

// GCConfig controls garbage collection of unreferenced blobs.
type GCConfig struct {
	GracePeriod Duration `toml:"grace_period"`
}

// WorkspaceConfig holds settings for reading a workspace into a snapshot.
type WorkspaceConfig struct {
	Ignore []string `toml:"ignore"`
}

// ExportConfig holds the keys used to encrypt exported snapshot bundles.
type ExportConfig struct {
	// Recipients are extra age recipients added to every export.
	Recipients     []string `toml:"recipients"`
	PublicKeyPath  string   `toml:"public_key_path"`
	PrivateKeyPath string   `toml:"private_key_path"`
}

// Duration is a time.Duration written as a Go duration string ("5m", "1h30m").
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}

// Default values written by NewConfig.
const (
	DefaultCatalogType   = "sqlite"
	DefaultSweepInterval = time.Minute
	DefaultCooldown      = 5 * time.Minute
	DefaultAuditMaxBytes = 10 << 20
	DefaultGCGracePeriod = time.Hour
)

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(installID, baseDir string) *Config {
	cfg := &Config{
		InstallID:   installID,
		StorageRoot: filepath.Join(baseDir, "store"),
		LogDir:      filepath.Join(baseDir, "log"),
		Workspace: WorkspaceConfig{
			Ignore: []string{"node_modules/", "*.swp", ".DS_Store"},
		},
		Export: ExportConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "snapkeep.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "snapkeep.key"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset settings with their defaults. Paths are left alone.
func (c *Config) ApplyDefaults() {
	if c.Catalog.Type == "" {
		c.Catalog.Type = DefaultCatalogType
	}
	if c.Cooldown.SweepInterval.Duration == 0 {
		c.Cooldown.SweepInterval.Duration = DefaultSweepInterval
	}
	if c.Cooldown.DefaultDuration.Duration == 0 {
		c.Cooldown.DefaultDuration.Duration = DefaultCooldown
	}
	if c.Audit.MaxBytes <= 0 {
		c.Audit.MaxBytes = DefaultAuditMaxBytes
	}
	if c.GC.GracePeriod.Duration == 0 {
		c.GC.GracePeriod.Duration = DefaultGCGracePeriod
	}
}

// Validate reports settings the application cannot start with.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root is not set")
	}
	switch c.Catalog.Type {
	case "", "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unknown catalog type: %s", c.Catalog.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. It refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
