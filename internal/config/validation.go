package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg for struct-tag violations on the ambient sections
// (logging, telemetry, metrics, backend, event log) plus the
// cross-cutting invariants struct tags can't express on types owned by
// other packages, such as a relational store's Type being one of the
// durability backends each store actually supports.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	for _, check := range []struct {
		name   string
		dbType string
	}{
		{"tuplestore", string(cfg.TupleStore.Type)},
		{"sharelink", string(cfg.ShareLink.Type)},
		{"snapshot", string(cfg.Snapshot.Type)},
		{"syncpipe_store", string(cfg.SyncPipeStore.Type)},
		{"upload_store", string(cfg.UploadStore.Type)},
	} {
		if check.dbType != "sqlite" && check.dbType != "postgres" {
			return fmt.Errorf("%s.type: must be sqlite or postgres, got %q", check.name, check.dbType)
		}
	}

	if cfg.Backend.Type == "s3" && cfg.Backend.S3.Bucket == "" {
		return fmt.Errorf("backend.s3.bucket: required when backend.type is s3")
	}

	if cfg.Backend.Type == "s3" && cfg.Backend.S3Client.Region == "" {
		return fmt.Errorf("backend.s3_client.region: required when backend.type is s3")
	}

	if cfg.Leopard.Backend == "badger" && cfg.Leopard.BadgerDir == "" {
		return fmt.Errorf("leopard.badger_dir: required when leopard.backend is badger")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint: required when telemetry.enabled is true")
	}

	if len(cfg.ShareLinkToken.Secret) > 0 && len(cfg.ShareLinkToken.Secret) < 32 {
		return fmt.Errorf("sharelink_token.secret: must be at least 32 bytes")
	}

	return nil
}
