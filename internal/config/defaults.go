package config

import (
	"strings"
	"time"

	"github.com/nexuslabs/nexus/pkg/authz"
)

// ApplyDefaults fills unset fields across every composed section. Zero
// values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved. Most sections delegate to their own package's
// ApplyDefaults so this stays in sync automatically as those defaults
// evolve.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	applyZoneDefaults(&cfg.Zone)

	cfg.TupleStore.ApplyDefaults()
	cfg.Authz = cfg.Authz.ApplyDefaults()
	cfg.PermCache.ApplyDefaults()
	cfg.DiskCache.ApplyDefaults()
	applyBackendDefaults(&cfg.Backend)

	cfg.Upload.ApplyDefaults()
	cfg.UploadStore.ApplyDefaults()

	cfg.ShareLink.ApplyDefaults()

	cfg.Snapshot.ApplyDefaults()

	cfg.SyncPipe.ApplyDefaults()
	cfg.SyncPipeStore.ApplyDefaults()

	applyEventLogDefaults(&cfg.EventLog)

	cfg.MemoryEvo.ApplyDefaults()
	cfg.QueryExpansion.ApplyDefaults()

	applyLeopardDefaults(&cfg.Leopard)

	// Note: no default for ShareLinkToken.Secret - a weak or absent
	// signing key is a configuration error the operator must fix, not
	// paper over with a generated default (sharelink.TokenConfig rejects
	// a secret under 32 bytes at construction time).
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyZoneDefaults(cfg *ZoneConfig) {
	// EnforceIsolation has no zero-value default to apply: false is a
	// legitimate explicit choice for single-zone deployments, and a
	// config file's absence of the key also unmarshals to false. Callers
	// that want enforcement must set it explicitly.
	// CrossZoneRelations empty means "use zone.DefaultCrossZoneRelations",
	// a decision left to zone.NewManager rather than duplicated here.
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Type == "s3" {
		cfg.S3.ApplyDefaults()
	}
}

func applyLeopardDefaults(cfg *LeopardConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100_000
	}
}

func applyEventLogDefaults(cfg *EventLogConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "segment"
	}
	cfg.Segment.ApplyDefaults()
	cfg.Relational.ApplyDefaults()
}

// GetDefaultConfig returns a Config with all default values applied,
// suitable as a starting point for a generated sample file or for tests
// that need a fully-populated configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Zone: ZoneConfig{
			EnforceIsolation: true,
		},
		Authz: authz.DefaultLimits(),
	}
	ApplyDefaults(cfg)
	return cfg
}
