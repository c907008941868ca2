package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nexuslabs/nexus/internal/config"
	"github.com/nexuslabs/nexus/pkg/backend"
)

// newBackend builds the storage Backend cfg selects. The S3 variant's
// *s3.Client is built against the ambient AWS credential chain
// (environment, shared config file, or instance role) rather than a
// plaintext secret in the configuration file; cfg.S3Client only carries
// the connection shape (region, endpoint override, path-style addressing)
// a client needs before credentials enter the picture.
func newBackend(ctx context.Context, cfg config.BackendConfig) (backend.Backend, error) {
	if cfg.Type != "s3" {
		return backend.NewMemoryBackend(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Client.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Client.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Client.Endpoint)
		}
		o.UsePathStyle = cfg.S3Client.ForcePathStyle
	})

	s3Cfg := cfg.S3
	s3Cfg.Client = client
	return backend.NewS3Backend(ctx, s3Cfg)
}
