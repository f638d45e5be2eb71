package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/inventory-engine/pkg/endpoint"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/Sternrassler/inventory-engine/pkg/thumbnail"
	"github.com/rs/zerolog"
)

var (
	// ErrAssetNotFound is returned by GetDataForAssetID for ids not in the cache.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidOptions indicates a provider was wired without a required collaborator.
	ErrInvalidOptions = errors.New("invalid provider options")
)

// Source is the coordinator-backed resource a provider reads from.
// *endpoint.Resource implements it. Load returns the cached items with the
// cursor and generation they were read with.
type Source[T any] interface {
	Load(ctx context.Context, appendPage bool, pageSize int, filters endpoint.Filters) (endpoint.Page[T], error)
	Reset()
}

// Selector reads an optional attribute of an item. ok=false always passes the
// corresponding filter.
type Selector[T any] func(item T) (value string, ok bool)

// Query selects the category and UI page size of a load. Empty fields are absent.
type Query struct {
	Category    string
	Subcategory string
	// PageSize is the number of items exposed per UI page. Zero exposes
	// everything fetched.
	PageSize int
}

// Options wires a provider to its collaborators.
type Options[T, V any] struct {
	// Name identifies the provider in logs.
	Name string

	Source Source[T]

	// ID returns the unique asset id of an item.
	ID func(item T) string

	// Convert projects an item into the UI type. It must be pure.
	Convert func(item T) V

	// SortKey orders each fetched page before staging. Nil keeps server order.
	SortKey func(item T) string

	Category    Selector[T]
	Subcategory Selector[T]

	// Thumbnails is optional. Without it entries are never given a thumbnail.
	Thumbnails      thumbnail.Resolver
	ThumbnailConfig thumbnail.Config

	// ServerPageSize is the page size hint sent to the endpoint. Zero uses the
	// UI page size.
	ServerPageSize int

	// Filters are sent to the endpoint with every full load.
	Filters endpoint.Filters

	// InitialQuery is used when a read triggers initialization.
	InitialQuery Query

	Logger zerolog.Logger
}

// Entry is one cached UI item.
type Entry[V any] struct {
	AssetID string
	Data    V

	// Thumbnail is nil when the asset has none or it is not resolved yet.
	Thumbnail *thumbnail.Asset
	// ThumbnailResolved is set once resolution finished, including when the
	// asset turned out to have no thumbnail.
	ThumbnailResolved bool
}

type staged[V any] struct {
	id   string
	data V
}

// Provider is the id-indexed, independently paginated view of a Source.
type Provider[T, V any] struct {
	opts   Options[T, V]
	batch  *thumbnail.Batch
	logger zerolog.Logger

	initMu   sync.Mutex
	status   Status
	initDone chan struct{}
	query    Query

	// mu guards everything below. byID is the dedup-by-id projection of
	// staging[:uiCursor]; order keeps first exposure order. serverSeen counts
	// the source items of generation sourceGen already staged.
	mu               sync.Mutex
	byID             map[string]*Entry[V]
	order            []string
	staging          []staged[V]
	uiCursor         int
	nextServerCursor string
	serverSeen       int
	sourceGen        uint64
	pageSize         int
	generation       uint64
	resolving        map[string]bool

	loadingMore atomic.Bool
}

// New creates a provider. Missing required collaborators are reported as
// ErrInvalidOptions.
func New[T, V any](opts Options[T, V]) (*Provider[T, V], error) {
	var missing []string
	if opts.Source == nil {
		missing = append(missing, "Source")
	}
	if opts.ID == nil {
		missing = append(missing, "ID")
	}
	if opts.Convert == nil {
		missing = append(missing, "Convert")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidOptions, strings.Join(missing, ", "))
	}
	if opts.Name == "" {
		opts.Name = "provider"
	}

	logger := opts.Logger.With().Str("provider", opts.Name).Logger()

	p := &Provider[T, V]{
		opts:      opts,
		logger:    logger,
		byID:      make(map[string]*Entry[V]),
		resolving: make(map[string]bool),
		pageSize:  opts.InitialQuery.PageSize,
	}
	if opts.Thumbnails != nil {
		p.batch = thumbnail.NewBatch(opts.Thumbnails, opts.ThumbnailConfig, logger)
	}
	return p, nil
}

// DefaultLogger returns the component logger providers use when wired by the
// catalog package.
func DefaultLogger() zerolog.Logger {
	return logging.NewLogger("provider")
}

// Status returns the lifecycle state.
func (p *Provider[T, V]) Status() Status {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	return p.status
}

// Initialize loads the first UI page once. It returns immediately when the
// provider is ready, waits for a running initialization, and otherwise starts
// one. Load failures leave a partial (possibly empty) cache and are not
// returned; the only error is ctx's own.
func (p *Provider[T, V]) Initialize(ctx context.Context, q Query) error {
	p.initMu.Lock()
	switch p.status {
	case StatusReady:
		p.initMu.Unlock()
		return nil
	case StatusLoading:
		done := p.initDone
		p.initMu.Unlock()
		return waitDone(ctx, done)
	}

	done := make(chan struct{})
	p.status = StatusLoading
	p.initDone = done
	p.query = q
	p.initMu.Unlock()

	go func() {
		defer close(done)

		if _, err := p.LoadUIData(context.WithoutCancel(ctx), q); err != nil {
			p.logger.Error().Err(err).Msg("Initial load failed")
		}

		p.initMu.Lock()
		if p.initDone == done {
			p.status = StatusReady
		}
		p.initMu.Unlock()
	}()

	return waitDone(ctx, done)
}

// LoadUIData fetches the first server page (served from the endpoint cache
// when present), stages the items not seen before and exposes up to
// q.PageSize of them, or all of them when q.PageSize is zero. A positive
// q.PageSize also becomes the page size of later LoadMore calls. It returns
// every exposed entry in exposure order.
func (p *Provider[T, V]) LoadUIData(ctx context.Context, q Query) ([]Entry[V], error) {
	gen := p.currentGeneration()

	page, err := p.opts.Source.Load(ctx, false, p.serverPageSize(q.PageSize), p.opts.Filters)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return p.Entries(), nil
	}
	if q.PageSize > 0 {
		p.pageSize = q.PageSize
	}
	count := p.stageLocked(page, q.Category, q.Subcategory)
	advance := count
	if q.PageSize > 0 {
		advance = min(q.PageSize, count)
	}
	merged := p.advanceLocked(advance)
	p.mu.Unlock()

	p.resolveThumbnails(ctx, merged)

	entries := p.Entries()
	p.logger.Info().
		Str("category", q.Category).
		Str("subcategory", q.Subcategory).
		Int("staged", count).
		Int("exposed", len(entries)).
		Bool("has_more", p.HasMoreData()).
		Msg("UI data loaded")
	return entries, nil
}

// LoadMore exposes the next UI page and returns only the newly exposed
// entries. It draws from already fetched items first and fetches another
// server page only when the staging buffer is exhausted. A call made while
// another LoadMore is running returns an empty slice.
func (p *Provider[T, V]) LoadMore(ctx context.Context, category, subcategory string) ([]Entry[V], error) {
	if !p.loadingMore.CompareAndSwap(false, true) {
		loadMoreRejectedTotal.Inc()
		p.logger.Debug().Msg("LoadMore already running - ignoring call")
		return []Entry[V]{}, nil
	}
	defer p.loadingMore.Store(false)

	p.mu.Lock()
	if p.uiCursor < len(p.staging) {
		merged := p.advanceLocked(p.pageSizeOrAllLocked())
		p.mu.Unlock()
		return p.finishLoadMore(ctx, merged, false), nil
	}
	if p.nextServerCursor == "" {
		p.mu.Unlock()
		return []Entry[V]{}, nil
	}
	gen := p.generation
	pageSize := p.pageSize
	p.mu.Unlock()

	page, err := p.opts.Source.Load(ctx, true, p.serverPageSize(pageSize), p.opts.Filters)
	if err != nil {
		return []Entry[V]{}, err
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return []Entry[V]{}, nil
	}
	p.stageLocked(page, category, subcategory)
	merged := p.advanceLocked(p.pageSizeOrAllLocked())
	p.mu.Unlock()

	return p.finishLoadMore(ctx, merged, true), nil
}

func (p *Provider[T, V]) finishLoadMore(ctx context.Context, merged []string, fetched bool) []Entry[V] {
	p.resolveThumbnails(ctx, merged)
	entries := p.entriesFor(merged)
	p.logger.Debug().
		Int("exposed", len(entries)).
		Bool("server_fetch", fetched).
		Bool("has_more", p.HasMoreData()).
		Msg("Loaded more UI data")
	return entries
}

// HasMoreData reports whether another server page exists or fetched items
// are still waiting to be exposed.
func (p *Provider[T, V]) HasMoreData() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextServerCursor != "" || p.uiCursor < len(p.staging)
}

// IsLoadingMore reports whether a LoadMore call is running.
func (p *Provider[T, V]) IsLoadingMore() bool {
	return p.loadingMore.Load()
}

// GetAllAssetIDs initializes the provider if needed and returns the exposed
// asset ids in exposure order, keeping only entries accepted by every filter.
func (p *Provider[T, V]) GetAllAssetIDs(ctx context.Context, filters ...func(Entry[V]) bool) ([]string, error) {
	if err := p.Initialize(ctx, p.opts.InitialQuery); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.order))
next:
	for _, id := range p.order {
		entry := *p.byID[id]
		for _, keep := range filters {
			if !keep(entry) {
				continue next
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetDataForAssetID initializes the provider if needed and returns the entry
// for id, or ErrAssetNotFound.
func (p *Provider[T, V]) GetDataForAssetID(ctx context.Context, id string) (Entry[V], error) {
	if err := p.Initialize(ctx, p.opts.InitialQuery); err != nil {
		return Entry[V]{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.byID[id]
	if !ok {
		return Entry[V]{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return *entry, nil
}

// Entries returns every exposed entry in exposure order.
func (p *Provider[T, V]) Entries() []Entry[V] {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]Entry[V], 0, len(p.order))
	for _, id := range p.order {
		entries = append(entries, *p.byID[id])
	}
	return entries
}

// Reload drops every cached page and initializes again with the last query.
func (p *Provider[T, V]) Reload(ctx context.Context) error {
	p.initMu.Lock()
	q := p.query
	p.status = StatusUninitialized
	p.initDone = nil
	p.initMu.Unlock()

	p.opts.Source.Reset()
	released := p.resetCache()

	p.logger.Info().Int("released_thumbnails", released).Msg("Reloading provider")
	return p.Initialize(ctx, q)
}

// Dispose releases every thumbnail handle and clears the cache. The provider
// can be initialized again afterwards. Safe to call more than once.
func (p *Provider[T, V]) Dispose() {
	p.initMu.Lock()
	p.status = StatusUninitialized
	p.initDone = nil
	p.initMu.Unlock()

	p.opts.Source.Reset()
	released := p.resetCache()

	p.logger.Debug().Int("released_thumbnails", released).Msg("Provider disposed")
}

// Snapshot returns counters describing the cache state.
func (p *Provider[T, V]) Snapshot() Stats {
	status := p.Status()

	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Status:           status,
		Exposed:          len(p.byID),
		Staged:           len(p.staging),
		UICursor:         p.uiCursor,
		ServerItems:      p.serverSeen,
		NextServerCursor: p.nextServerCursor,
		HasMoreData:      p.nextServerCursor != "" || p.uiCursor < len(p.staging),
		LoadingMore:      p.loadingMore.Load(),
	}
}

// stageLocked appends the not yet seen tail of page to the staging buffer and
// records its server cursor. A page older than what was already staged is
// ignored. It returns how many items were staged.
func (p *Provider[T, V]) stageLocked(page endpoint.Page[T], category, subcategory string) int {
	switch {
	case page.Generation < p.sourceGen:
		p.logger.Debug().
			Uint64("page_generation", page.Generation).
			Uint64("source_generation", p.sourceGen).
			Msg("Ignoring page from before a source reset")
		return 0
	case page.Generation > p.sourceGen:
		if p.serverSeen > 0 {
			p.logger.Warn().
				Int("source_items", len(page.Items)).
				Int("seen", p.serverSeen).
				Msg("Source was reset - restaging")
		}
		p.sourceGen = page.Generation
		p.serverSeen = 0
	case len(page.Items) < p.serverSeen:
		p.logger.Debug().
			Int("source_items", len(page.Items)).
			Int("seen", p.serverSeen).
			Msg("Ignoring stale source page")
		return 0
	}

	items := page.Items
	p.nextServerCursor = page.NextCursor
	fresh := items[p.serverSeen:]
	p.serverSeen = len(items)

	kept := make([]T, 0, len(fresh))
	for _, item := range fresh {
		if matches(p.opts.Category, item, category) && matches(p.opts.Subcategory, item, subcategory) {
			kept = append(kept, item)
		}
	}

	if p.opts.SortKey != nil {
		slices.SortStableFunc(kept, func(a, b T) int {
			return strings.Compare(p.opts.SortKey(a), p.opts.SortKey(b))
		})
	}

	for _, item := range kept {
		p.staging = append(p.staging, staged[V]{
			id:   p.opts.ID(item),
			data: p.opts.Convert(item),
		})
	}
	return len(kept)
}

// advanceLocked moves the UI cursor forward by up to n items and merges that
// slice into byID. It returns the ids merged, without duplicates.
func (p *Provider[T, V]) advanceLocked(n int) []string {
	end := min(p.uiCursor+n, len(p.staging))
	if end <= p.uiCursor {
		return nil
	}

	slice := p.staging[p.uiCursor:end]
	p.uiCursor = end

	merged := make([]string, 0, len(slice))
	seen := make(map[string]bool, len(slice))
	for _, s := range slice {
		if entry, ok := p.byID[s.id]; ok {
			entry.Data = s.data
		} else {
			p.byID[s.id] = &Entry[V]{AssetID: s.id, Data: s.data}
			p.order = append(p.order, s.id)
		}
		if !seen[s.id] {
			seen[s.id] = true
			merged = append(merged, s.id)
		}
	}
	return merged
}

func (p *Provider[T, V]) pageSizeOrAllLocked() int {
	if p.pageSize > 0 {
		return p.pageSize
	}
	return len(p.staging) - p.uiCursor
}

func (p *Provider[T, V]) serverPageSize(uiPageSize int) int {
	if p.opts.ServerPageSize > 0 {
		return p.opts.ServerPageSize
	}
	return uiPageSize
}

func (p *Provider[T, V]) entriesFor(ids []string) []Entry[V] {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]Entry[V], 0, len(ids))
	for _, id := range ids {
		if entry, ok := p.byID[id]; ok {
			entries = append(entries, *entry)
		}
	}
	return entries
}

func (p *Provider[T, V]) currentGeneration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// resetCache clears the cache state, releasing thumbnail handles. It returns
// the number of handles released.
func (p *Provider[T, V]) resetCache() int {
	p.mu.Lock()
	entries := p.byID
	p.byID = make(map[string]*Entry[V])
	p.order = nil
	p.staging = nil
	p.uiCursor = 0
	p.nextServerCursor = ""
	p.serverSeen = 0
	p.pageSize = p.opts.InitialQuery.PageSize
	p.resolving = make(map[string]bool)
	p.generation++
	p.mu.Unlock()

	released := 0
	for _, entry := range entries {
		if entry.Thumbnail != nil {
			entry.Thumbnail.Release()
			released++
		}
	}
	return released
}

func matches[T any](sel Selector[T], item T, want string) bool {
	if sel == nil || want == "" {
		return true
	}
	value, ok := sel(item)
	if !ok {
		return true
	}
	return value == want
}

func waitDone(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
