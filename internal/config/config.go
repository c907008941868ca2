// Package config assembles the per-subsystem configuration structs scattered
// across pkg/* into one composable root Config, loaded the way
// dittofs/pkg/config loads its own: viper reads a YAML file, environment
// variables override it under a NEXUS_ prefix, and whatever remains unset
// falls back to ApplyDefaults.
//
// Nexus's CORE has no CLI or RPC surface (see spec Non-goals), so unlike
// dittofs/pkg/config this package never touches share/adapter/identity
// configuration — it only wires the storage, cache, authorization, and
// ambient sections a composition-root binary needs to construct the CORE's
// components.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nexuslabs/nexus/pkg/authz"
	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/diskcache"
	"github.com/nexuslabs/nexus/pkg/eventlog"
	"github.com/nexuslabs/nexus/pkg/memoryevo"
	"github.com/nexuslabs/nexus/pkg/permcache"
	"github.com/nexuslabs/nexus/pkg/queryexpansion"
	"github.com/nexuslabs/nexus/pkg/sharelink"
	"github.com/nexuslabs/nexus/pkg/snapshot"
	"github.com/nexuslabs/nexus/pkg/syncpipe"
	tuplestore "github.com/nexuslabs/nexus/pkg/tuple/store"
	"github.com/nexuslabs/nexus/pkg/upload"
)

// Config is Nexus's root configuration, composing every subsystem's own
// Config/StoreConfig struct plus the ambient logging/telemetry/metrics
// sections. Configuration sources, highest precedence first:
//  1. Environment variables (NEXUS_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds how long the composition root waits for
	// in-flight operations to drain before forcing process exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Zone ZoneConfig `mapstructure:"zone" yaml:"zone"`

	TupleStore tuplestore.Config `mapstructure:"tuplestore" yaml:"tuplestore"`

	Authz authz.Limits `mapstructure:"authz" yaml:"authz"`

	PermCache permcache.Config `mapstructure:"permcache" yaml:"permcache"`

	DiskCache diskcache.Config `mapstructure:"diskcache" yaml:"diskcache"`

	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	Upload      upload.Config      `mapstructure:"upload" yaml:"upload"`
	UploadStore upload.StoreConfig `mapstructure:"upload_store" yaml:"upload_store"`

	ShareLink      sharelink.StoreConfig `mapstructure:"sharelink" yaml:"sharelink"`
	ShareLinkToken sharelink.TokenConfig `mapstructure:"sharelink_token" yaml:"sharelink_token"`

	Snapshot snapshot.StoreConfig `mapstructure:"snapshot" yaml:"snapshot"`

	SyncPipe      syncpipe.Config      `mapstructure:"syncpipe" yaml:"syncpipe"`
	SyncPipeStore syncpipe.StoreConfig `mapstructure:"syncpipe_store" yaml:"syncpipe_store"`

	EventLog EventLogConfig `mapstructure:"eventlog" yaml:"eventlog"`

	MemoryEvo      memoryevo.Config      `mapstructure:"memoryevo" yaml:"memoryevo"`
	QueryExpansion queryexpansion.Config `mapstructure:"queryexpansion" yaml:"queryexpansion"`

	Leopard LeopardConfig `mapstructure:"leopard" yaml:"leopard"`
}

// LeopardConfig selects the Leopard closure index's backing Table (spec
// §4.5): an in-memory map for single-node/test deployments, or a Badger
// table that survives a restart without a full RebuildForZone.
type LeopardConfig struct {
	// Backend selects the Table implementation: "memory" or "badger".
	Backend string `mapstructure:"backend" validate:"required,oneof=memory badger" yaml:"backend"`
	// BadgerDir is the Badger database directory. Required when Backend is
	// "badger".
	BadgerDir string `mapstructure:"badger_dir" yaml:"badger_dir"`
	// MaxSize bounds the number of memberKey entries the closure's LRU
	// cache holds before evicting the least-recently-touched one.
	MaxSize int `mapstructure:"max_size" validate:"required,gt=0" yaml:"max_size"`
}

// ZoneConfig configures the Zone Manager (spec §4.4).
type ZoneConfig struct {
	// EnforceIsolation controls whether cross-zone writes are rejected.
	// GetDefaultConfig sets it to true; a loaded config file that omits the
	// key leaves it false. Single-zone deployments and tests may disable it.
	EnforceIsolation bool `mapstructure:"enforce_isolation" yaml:"enforce_isolation"`
	// CrossZoneRelations is the allow-list of relations permitted to cross
	// a zone boundary. Empty uses zone.DefaultCrossZoneRelations.
	CrossZoneRelations []string `mapstructure:"cross_zone_relations" yaml:"cross_zone_relations"`
}

// BackendConfig selects the storage Backend (spec §4.1). Nexus retains the
// interface plus the in-memory reference adapter and the one concrete
// multipart-capable adapter (S3) per the Non-goal on building new backends.
type BackendConfig struct {
	// Type selects the backend: "memory" or "s3".
	Type     string           `mapstructure:"type" validate:"required,oneof=memory s3" yaml:"type"`
	S3       backend.S3Config `mapstructure:"s3" yaml:"s3"`
	S3Client S3ClientConfig   `mapstructure:"s3_client" yaml:"s3_client"`
}

// S3ClientConfig holds the connection parameters the composition root
// needs to build the *s3.Client that backend.S3Config.Client expects.
// Access key and secret are deliberately absent here: the client is built
// against the ambient AWS credential chain (environment, shared config,
// or instance role), not a plaintext secret in this file.
type S3ClientConfig struct {
	// Region is the AWS region, e.g. "us-east-1".
	Region string `mapstructure:"region" yaml:"region"`
	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// stores such as MinIO. Empty uses the real AWS endpoint.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// ForcePathStyle selects path-style addressing, required by most
	// non-AWS S3-compatible stores.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// EventLogConfig selects the Event Log's storage mode (spec §4.13): the
// native segment-file log, or the relational fallback used when the
// segment log's disk is unavailable.
type EventLogConfig struct {
	// Mode selects the log: "segment" or "relational".
	Mode       string                    `mapstructure:"mode" validate:"required,oneof=segment relational" yaml:"mode"`
	Segment    eventlog.SegmentConfig    `mapstructure:"segment" yaml:"segment"`
	Relational eventlog.RelationalConfig `mapstructure:"relational" yaml:"relational"`
}

// LoggingConfig controls logging behavior, mirroring
// dittofs/pkg/config's LoggingConfig shape.
type LoggingConfig struct {
	// Level is the minimum log level to output: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	// Format is the log output encoding: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// Output is where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing for graph
// traversal and sync pipeline spans.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, producing a friendlier error when no
// config file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"create one at that path, or pass --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed. Used by a one-time setup step to persist a generated default.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// setupViper wires environment variable overrides (NEXUS_ prefix, "."
// replaced with "_") and the config file search path.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if one exists. A missing
// file is not an error: the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// getConfigDir returns $XDG_CONFIG_HOME/nexus, falling back to
// ~/.config/nexus, or "." if the home directory can't be resolved.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nexus")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the resolved configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}
