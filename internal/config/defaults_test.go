package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig_PassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"
	cfg.Backend.Type = "s3"
	cfg.Backend.S3.Bucket = "my-bucket"

	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "s3", cfg.Backend.Type)
	assert.Equal(t, "my-bucket", cfg.Backend.S3.Bucket)
	// S3Config.ApplyDefaults still ran for the fields left unset.
	assert.Equal(t, int64(5*1024*1024), cfg.Backend.S3.PartSize)
}

func TestApplyDefaults_BackendDefaultsToMemory(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "memory", cfg.Backend.Type)
}

func TestApplyDefaults_EventLogDefaultsToSegment(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "segment", cfg.EventLog.Mode)
	assert.Equal(t, int64(64<<20), cfg.EventLog.Segment.MaxSegmentBytes)
}

func TestApplyDefaults_LeopardDefaultsToMemory(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, "memory", cfg.Leopard.Backend)
	assert.Equal(t, 100_000, cfg.Leopard.MaxSize)
}

func TestApplyDefaults_EachSubsystemGetsItsOwnDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, "sqlite", string(cfg.TupleStore.Type))
	assert.Equal(t, "nexus.db", cfg.TupleStore.SQLite.Path)
	assert.Equal(t, "nexus-sharelink.db", cfg.ShareLink.SQLite.Path)
	assert.Equal(t, "nexus-snapshot.db", cfg.Snapshot.SQLite.Path)
	assert.Equal(t, "nexus-syncpipe.db", cfg.SyncPipeStore.SQLite.Path)
	assert.Equal(t, "nexus-uploads.db", cfg.UploadStore.SQLite.Path)
	assert.Equal(t, int64(20), cfg.Upload.MaxConcurrentUploads)
}
