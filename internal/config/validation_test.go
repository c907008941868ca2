package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max")
}

func TestValidate_InvalidBackendType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "azure"

	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidate_S3BackendRequiresBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "s3"
	cfg.Backend.S3.Bucket = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestValidate_S3BackendRequiresRegion(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "s3"
	cfg.Backend.S3.Bucket = "my-bucket"
	cfg.Backend.S3Client.Region = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "endpoint")
}

func TestValidate_ShortSigningSecretRejected(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ShareLinkToken.Secret = "too-short"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestValidate_BadgerLeopardRequiresDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Leopard.Backend = "badger"
	cfg.Leopard.BadgerDir = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badger_dir")
}

func TestValidate_UnsupportedTupleStoreType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.TupleStore.Type = "dynamodb"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tuplestore")
}
