package thumbnail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds batch resolver configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel resolutions.
	MaxConcurrency int
	// Timeout per asset resolution.
	Timeout time.Duration
}

// DefaultConfig returns the configuration used by the catalog providers.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		Timeout:        10 * time.Second,
	}
}

// Result is the outcome of resolving one asset. Asset is nil when the asset
// has no thumbnail or resolution failed.
type Result struct {
	AssetID string
	Asset   *Asset
	Err     error
}

// Batch resolves many assets concurrently with a bounded worker pool.
type Batch struct {
	resolver Resolver
	config   Config
	logger   zerolog.Logger
}

// NewBatch creates a batch resolver.
func NewBatch(resolver Resolver, config Config, logger zerolog.Logger) *Batch {
	if resolver == nil {
		panic("thumbnail resolver cannot be nil")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Batch{
		resolver: resolver,
		config:   config,
		logger:   logger,
	}
}

// ResolveAll resolves every id and returns once all of them finished.
// Failures are reported per asset; the batch itself never fails.
func (b *Batch) ResolveAll(ctx context.Context, assetIDs []string) map[string]Result {
	results := make(map[string]Result, len(assetIDs))
	if len(assetIDs) == 0 {
		return results
	}
	start := time.Now()

	queue := make(chan string, len(assetIDs))
	for _, id := range assetIDs {
		queue <- id
	}
	close(queue)

	out := make(chan Result, len(assetIDs))
	workers := min(b.config.MaxConcurrency, len(assetIDs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go b.worker(ctx, queue, out, &wg, i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var loaded, none, failed int
	for res := range out {
		results[res.AssetID] = res
		switch {
		case res.Err != nil:
			failed++
		case res.Asset == nil:
			none++
		default:
			loaded++
		}
	}

	thumbnailBatchDuration.Observe(time.Since(start).Seconds())
	b.logger.Debug().
		Int("requested", len(assetIDs)).
		Int("loaded", loaded).
		Int("none", none).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Thumbnail batch complete")

	return results
}

// worker resolves ids from the queue until it is drained.
func (b *Batch) worker(ctx context.Context, queue <-chan string, out chan<- Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for id := range queue {
		if err := ctx.Err(); err != nil {
			out <- Result{AssetID: id, Err: err}
			continue
		}

		assetCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
		asset, err := b.resolve(assetCtx, id)
		cancel()

		switch {
		case err != nil:
			thumbnailResolutionsTotal.WithLabelValues("error").Inc()
			b.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("asset_id", id).
				Msg("Thumbnail resolution failed")
		case asset == nil:
			thumbnailResolutionsTotal.WithLabelValues("none").Inc()
		default:
			thumbnailResolutionsTotal.WithLabelValues("loaded").Inc()
		}

		out <- Result{AssetID: id, Asset: asset, Err: err}
	}
}

func (b *Batch) resolve(ctx context.Context, id string) (asset *Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			asset, err = nil, fmt.Errorf("thumbnail resolver panic: %v", r)
		}
	}()
	return b.resolver.Resolve(ctx, id)
}
