// Package syncpipe implements the Sync Pipeline (spec §4.9): the
// seven-stage batch job connector backends use to synchronize an
// external system's state into the local metadata index and cache.
package syncpipe

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/conc/pool"

	"github.com/nexuslabs/nexus/internal/metrics"
	"github.com/nexuslabs/nexus/internal/telemetry"
	"github.com/nexuslabs/nexus/pkg/backend"
	"github.com/nexuslabs/nexus/pkg/diskcache"
)

// RemoteFile is one entry a Connector's Discover listing returns.
type RemoteFile struct {
	// Key is the connector-native identifier passed back into Read and
	// BatchStat; it need not resemble a filesystem path (e.g. a message
	// ID for an email connector).
	Key string
	// RelPath is the file's path relative to the connector's sync root;
	// joined with the pipeline's MountPoint to form the virtual path
	// glob patterns and the metadata index key on.
	RelPath string
	Size    int64
}

// Connector is the capability a connector backend implements: listing
// its namespace, reading one object, and batch-stat-ing many at once so
// the Check Versions stage avoids one round trip per candidate.
type Connector interface {
	List(ctx context.Context, root string) ([]RemoteFile, error)
	Read(ctx context.Context, key string) ([]byte, error)
	BatchStat(ctx context.Context, keys []string) (map[string]backend.ObjectInfo, error)
}

// CacheEntry is one virtual path's previously-synced metadata.
type CacheEntry struct {
	VirtualPath    string
	BackendVersion string
	ContentHash    string
	Immutable      bool
}

// Record is one synced file's outcome, written in a single batch by the
// Write Cache stage.
type Record struct {
	VirtualPath    string
	BackendVersion string
	ContentHash    string
	ContentText    string
	Size           int64
	// Changed is false when the content hash matches the previously
	// cached hash (a "no-op rewrite": the backend_version moved but the
	// bytes didn't) — Generate Embeddings skips these.
	Changed bool
}

// MetadataStore is the batch-oriented index the pipeline reads from and
// writes to. Every stage that touches it issues exactly one round trip
// regardless of candidate count (spec's design rationale: O(1) DB round
// trips per stage, not O(N)).
type MetadataStore interface {
	LoadBatch(ctx context.Context, virtualPaths []string) (map[string]CacheEntry, error)
	WriteBatch(ctx context.Context, records []Record) error
}

// Parser extracts searchable text from a file's content, e.g. OCR or
// document-format text extraction. Optional: a nil Parser skips
// ContentText population entirely.
type Parser interface {
	Parse(ctx context.Context, virtualPath string, content []byte) (string, error)
}

// EmbeddingProvider generates and stores a vector embedding for one
// changed record's text. Optional: a nil provider skips stage 7 entirely.
type EmbeddingProvider interface {
	Embed(ctx context.Context, virtualPath, contentText string) error
}

// Config tunes one pipeline run.
type Config struct {
	MountPoint      string
	Include         []string
	Exclude         []string
	MaxSize         int64
	ReadConcurrency int
}

// ApplyDefaults fills unset fields: no size cap beyond 100MiB, 8-way
// concurrent backend reads.
func (c *Config) ApplyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 100 << 20
	}
	if c.ReadConcurrency <= 0 {
		c.ReadConcurrency = 8
	}
}

// Result is the summary spec §4.9 requires every run to produce.
type Result struct {
	FilesScanned        int
	FilesSynced         int
	FilesSkipped        int
	BytesSynced         int64
	EmbeddingsGenerated int
	Errors              []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Pipeline runs the seven-stage sync for one Connector against one
// MetadataStore. Parser and EmbeddingProvider are optional (nil-able).
type Pipeline struct {
	connector Connector
	store     MetadataStore
	parser    Parser
	embedder  EmbeddingProvider
	cache     *diskcache.Cache
	metrics   *metrics.Metrics
	cfg       Config
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithDiskCache wires the Local Disk Cache into the Read Backend stage: a
// candidate whose previously-cached content hash is still present on disk
// is served from there instead of a connector round trip, and every
// backend read populates the cache for the next run (spec §2's "...then
// the Local Disk Cache, then the backend" read order).
func WithDiskCache(c *diskcache.Cache) Option { return func(p *Pipeline) { p.cache = c } }

// WithMetrics wires Prometheus collectors for run outcome and disk cache
// hit/miss. A nil *metrics.Metrics is safe; its methods are nil-safe no-ops.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// NewPipeline wires a Pipeline. parser and embedder may be nil.
func NewPipeline(connector Connector, store MetadataStore, parser Parser, embedder EmbeddingProvider, cfg Config, opts ...Option) *Pipeline {
	cfg.ApplyDefaults()
	p := &Pipeline{connector: connector, store: store, parser: parser, embedder: embedder, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candidate is one file moving through the pipeline's stages.
type candidate struct {
	virtualPath string
	key         string
	markedRead  bool
	version     string
	content     []byte
	readErr     error
	fromCache   bool
}

// Run executes all seven stages over one connector root, returning a
// summary even when individual files failed (each stage has its own
// error basin and never aborts the run for other items).
func (p *Pipeline) Run(ctx context.Context, root string) (result *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "syncpipe.Run")
	defer span.End()

	result = &Result{}
	outcome := "ok"
	defer func() {
		if err != nil || len(result.Errors) > 0 {
			outcome = "error"
		}
		p.metrics.RecordSyncPipelineRun(outcome)
	}()

	candidates, derr := p.discover(ctx, root, result)
	if derr != nil {
		telemetry.RecordError(ctx, derr)
		return result, fmt.Errorf("syncpipe: discover: %w", derr)
	}
	result.FilesScanned = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	cached, cerr := p.loadCache(ctx, candidates)
	if cerr != nil {
		telemetry.RecordError(ctx, cerr)
		return result, fmt.Errorf("syncpipe: load cache: %w", cerr)
	}

	p.checkVersions(ctx, candidates, cached, result)

	p.readBackend(ctx, candidates, cached, result)

	records := p.processContent(ctx, candidates, cached, result)

	if werr := p.writeCache(ctx, records); werr != nil {
		telemetry.RecordError(ctx, werr)
		return result, fmt.Errorf("syncpipe: write cache: %w", werr)
	}
	result.FilesSynced = len(records)
	for _, rec := range records {
		result.BytesSynced += rec.Size
	}

	if p.embedder != nil {
		p.generateEmbeddings(ctx, records, result)
	}

	return result, nil
}

// discover lists the connector's namespace, maps each entry to a virtual
// path under MountPoint, and applies the include/exclude glob filters
// against that virtual path.
func (p *Pipeline) discover(ctx context.Context, root string, result *Result) ([]*candidate, error) {
	files, err := p.connector.List(ctx, root)
	if err != nil {
		return nil, err
	}

	candidates := make([]*candidate, 0, len(files))
	for _, f := range files {
		virtualPath := path.Join(p.cfg.MountPoint, f.RelPath)
		if !p.matchesFilters(virtualPath) {
			result.FilesSkipped++
			continue
		}
		candidates = append(candidates, &candidate{virtualPath: virtualPath, key: f.Key})
	}
	return candidates, nil
}

// matchesFilters applies Include (if any) then Exclude against a virtual
// path. An empty Include list matches everything.
func (p *Pipeline) matchesFilters(virtualPath string) bool {
	trimmed := strings.TrimPrefix(virtualPath, "/")

	if len(p.cfg.Include) > 0 {
		included := false
		for _, pattern := range p.cfg.Include {
			if ok, _ := doublestar.Match(pattern, trimmed); ok {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	for _, pattern := range p.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, trimmed); ok {
			return false
		}
	}
	return true
}

// loadCache is the single bulk read of existing metadata for every
// candidate virtual path.
func (p *Pipeline) loadCache(ctx context.Context, candidates []*candidate) (map[string]CacheEntry, error) {
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.virtualPath
	}
	return p.store.LoadBatch(ctx, paths)
}

// checkVersions marks each candidate for a backend read unless its cached
// entry is immutable or already matches the backend's current version.
// Version fetch uses the connector's batch-stat API.
func (p *Pipeline) checkVersions(ctx context.Context, candidates []*candidate, cached map[string]CacheEntry, result *Result) {
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}

	info, err := p.connector.BatchStat(ctx, keys)
	if err != nil {
		result.addError("check versions: batch stat: %v", err)
		return
	}

	for _, c := range candidates {
		entry, hasEntry := cached[c.virtualPath]
		if hasEntry && entry.Immutable {
			result.FilesSkipped++
			continue
		}

		stat, ok := info[c.key]
		if ok {
			c.version = stat.Version
		}

		if hasEntry && ok && entry.BackendVersion == stat.Version {
			result.FilesSkipped++
			continue
		}

		c.markedRead = true
	}
}

// readBackend concurrently reads every marked candidate via a bounded
// worker pool; per-file failures are recorded on the candidate and do not
// stop the other reads. Before issuing a connector round trip, a
// candidate whose previously cached content hash is still resident in
// the Local Disk Cache is served from there instead (spec §2's read
// order: in-memory caches, then the Local Disk Cache, then the backend).
func (p *Pipeline) readBackend(ctx context.Context, candidates []*candidate, cached map[string]CacheEntry, result *Result) {
	ctx, span := telemetry.StartSpan(ctx, "syncpipe.readBackend")
	defer span.End()

	workers := pool.New().WithMaxGoroutines(p.cfg.ReadConcurrency)

	for _, c := range candidates {
		if !c.markedRead {
			continue
		}
		c := c
		workers.Go(func() {
			if p.cache != nil {
				if previous, ok := cached[c.virtualPath]; ok && previous.ContentHash != "" {
					if content, hit, err := p.cache.Get(ctx, previous.ContentHash, p.cfg.MountPoint); err == nil && hit {
						p.metrics.RecordDiskCacheResult(true)
						c.content = content
						c.fromCache = true
						return
					}
				}
				p.metrics.RecordDiskCacheResult(false)
			}

			content, err := p.connector.Read(ctx, c.key)
			if err != nil {
				c.readErr = err
				return
			}
			c.content = content
		})
	}

	workers.Wait()

	for _, c := range candidates {
		if c.markedRead && c.readErr != nil {
			result.addError("read backend: %s: %v", c.virtualPath, c.readErr)
		}
	}
}

// processContent enforces MaxSize, computes the content hash, detects
// no-op rewrites against the previously cached hash, and invokes the
// optional Parser for text extraction.
func (p *Pipeline) processContent(ctx context.Context, candidates []*candidate, cached map[string]CacheEntry, result *Result) []Record {
	ctx, span := telemetry.StartSpan(ctx, "syncpipe.processContent")
	defer span.End()

	records := make([]Record, 0, len(candidates))

	for _, c := range candidates {
		if !c.markedRead || c.readErr != nil {
			continue
		}

		if int64(len(c.content)) > p.cfg.MaxSize {
			result.addError("process content: %s: size %d exceeds max %d", c.virtualPath, len(c.content), p.cfg.MaxSize)
			result.FilesSkipped++
			continue
		}

		hash := diskcache.HashContent(c.content)
		previous, hadPrevious := cached[c.virtualPath]
		changed := !hadPrevious || previous.ContentHash != hash

		if p.cache != nil && !c.fromCache {
			if _, err := p.cache.Put(ctx, hash, c.content, p.cfg.MountPoint, 0, false); err != nil {
				result.addError("process content: cache put %s: %v", c.virtualPath, err)
			}
		}

		var text string
		if p.parser != nil {
			parsed, err := p.parser.Parse(ctx, c.virtualPath, c.content)
			if err != nil {
				result.addError("process content: parse %s: %v", c.virtualPath, err)
			} else {
				text = parsed
			}
		}

		records = append(records, Record{
			VirtualPath:    c.virtualPath,
			BackendVersion: c.version,
			ContentHash:    hash,
			ContentText:    text,
			Size:           int64(len(c.content)),
			Changed:        changed,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].VirtualPath < records[j].VirtualPath })
	return records
}

// writeCache is the single batch write of every accumulated record.
func (p *Pipeline) writeCache(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return p.store.WriteBatch(ctx, records)
}

// generateEmbeddings invokes the embedding provider for every changed
// record; per-file failures accumulate without blocking the rest.
func (p *Pipeline) generateEmbeddings(ctx context.Context, records []Record, result *Result) {
	for _, rec := range records {
		if !rec.Changed {
			continue
		}
		if err := p.embedder.Embed(ctx, rec.VirtualPath, rec.ContentText); err != nil {
			result.addError("generate embeddings: %s: %v", rec.VirtualPath, err)
			continue
		}
		result.EmbeddingsGenerated++
	}
}
