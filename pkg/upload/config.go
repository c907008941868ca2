package upload

import "time"

// Config tunes the Chunked Upload Service's limits (spec §4.10).
type Config struct {
	MaxConcurrentUploads int64
	SessionTTL           time.Duration
	CleanupInterval      time.Duration
	MinChunkSize         int64
	MaxChunkSize         int64
	MaxUploadSize        int64
}

// ApplyDefaults matches the reference service's defaults: 20 concurrent
// uploads, 24h session TTL, hourly cleanup sweep, 5MiB-64MiB chunks
// (last chunk exempt from the minimum), 10GiB max upload.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrentUploads <= 0 {
		c.MaxConcurrentUploads = 20
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = 5 << 20
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 64 << 20
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = 10 << 30
	}
}

// TUS protocol constants advertised by Capabilities.
const (
	tusVersion    = "1.0.0"
	tusExtensions = "creation,termination,checksum,expiration"
)
