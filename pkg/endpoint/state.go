package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrNilState is returned when Fetch is called without a State.
var ErrNilState = errors.New("endpoint state cannot be nil")

// Options configures a State.
type Options struct {
	// Timeout bounds a single network fetch. Zero means no bound beyond the
	// descriptor's own transport timeouts.
	Timeout time.Duration

	// Logger receives fetch failures and single-flight diagnostics.
	Logger zerolog.Logger
}

// DefaultOptions returns the options used by the catalog providers.
func DefaultOptions() Options {
	return Options{
		Timeout: 30 * time.Second,
		Logger:  logging.NewLogger("endpoint"),
	}
}

// Page is a consistent view of a State: the cached items together with the
// cursor and generation they were read with.
type Page[T any] struct {
	Items      []T
	NextCursor string
	Generation uint64
}

// call is a fetch in progress. page is written once before done is closed.
type call[T any] struct {
	done       chan struct{}
	generation uint64
	page       Page[T]
}

func (c *call[T]) wait(ctx context.Context) (Page[T], error) {
	select {
	case <-c.done:
		return c.page.clone(), nil
	case <-ctx.Done():
		return Page[T]{}, ctx.Err()
	}
}

func (p Page[T]) clone() Page[T] {
	p.Items = copyItems(p.Items)
	return p
}

// State is the mutable record of one paged resource.
//
// pending != nil exactly while a fetch is in flight. cache, nextCursor and
// retained are only written under mu, and only by the fetch that owns pending.
type State[T any] struct {
	mu         sync.Mutex
	cache      []T
	nextCursor string
	retained   Filters
	loaded     bool
	pending    *call[T]
	generation uint64

	timeout time.Duration
	logger  zerolog.Logger
}

// NewState creates an empty State.
func NewState[T any](opts Options) *State[T] {
	return &State[T]{
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Items returns a copy of the cached items.
func (s *State[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyItems(s.cache)
}

// Len returns the number of cached items.
func (s *State[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// NextCursor returns the cursor of the next server page, or "" when the last
// fetched page was the final one (or nothing was fetched yet).
func (s *State[T]) NextCursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCursor
}

// RetainedFilters returns the filters used by the last full (non-append) load.
func (s *State[T]) RetainedFilters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retained.Clone()
}

// InFlight reports whether a fetch is currently running.
func (s *State[T]) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Generation counts the resets of s.
func (s *State[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *State[T]) pageLocked() Page[T] {
	return Page[T]{
		Items:      copyItems(s.cache),
		NextCursor: s.nextCursor,
		Generation: s.generation,
	}
}

// Reset empties the cache and forgets the cursor and filters. A fetch that is
// still in flight completes for its own waiters but does not write into the
// reset state.
func (s *State[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
	s.nextCursor = ""
	s.retained = nil
	s.loaded = false
	s.generation++
}

// Fetch returns the items of the resource described by d, fetching a page
// when needed. See FetchPage.
func Fetch[R, T any](ctx context.Context, d Descriptor[R, T], s *State[T], appendPage bool, pageSize int, filters Filters) ([]T, error) {
	page, err := FetchPage(ctx, d, s, appendPage, pageSize, filters)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FetchPage returns the items of the resource described by d along with the
// cursor and generation read in the same critical section.
//
// A non-append call with a populated cache is served from the cache. Otherwise
// one network fetch runs: cursor and filters come from the state for append
// calls (so repeated load-more calls keep stable continuation parameters) and
// from the arguments for full loads. Every caller that joins a running fetch
// receives the same items.
//
// The fetch itself is detached from ctx. Cancelling ctx only stops this caller
// from waiting.
func FetchPage[R, T any](ctx context.Context, d Descriptor[R, T], s *State[T], appendPage bool, pageSize int, filters Filters) (Page[T], error) {
	if err := d.Validate(); err != nil {
		return Page[T]{}, err
	}
	if s == nil {
		return Page[T]{}, ErrNilState
	}

	for {
		s.mu.Lock()

		if !appendPage && len(s.cache) > 0 {
			page := s.pageLocked()
			s.mu.Unlock()
			endpointCacheServed.WithLabelValues(d.ErrorContext).Inc()
			s.logger.Debug().
				Str("endpoint", d.ErrorContext).
				Int("items", len(page.Items)).
				Msg("Served from endpoint cache")
			return page, nil
		}

		if c := s.pending; c != nil {
			current := c.generation == s.generation
			s.mu.Unlock()

			if current {
				endpointSharedWaits.WithLabelValues(d.ErrorContext).Inc()
				s.logger.Debug().
					Str("endpoint", d.ErrorContext).
					Bool("append", appendPage).
					Msg("Joining in-flight fetch")
				return c.wait(ctx)
			}

			// Fetch from before a Reset: let it drain, then start over.
			if _, err := c.wait(ctx); err != nil {
				return Page[T]{}, err
			}
			continue
		}

		if appendPage && s.loaded && s.nextCursor == "" {
			page := s.pageLocked()
			s.mu.Unlock()
			s.logger.Debug().
				Str("endpoint", d.ErrorContext).
				Msg("No further pages to append")
			return page, nil
		}

		c := &call[T]{
			done:       make(chan struct{}),
			generation: s.generation,
		}
		s.pending = c

		req := Request{PageSize: pageSize, Filters: filters.Clone()}
		if appendPage {
			req.Cursor = s.nextCursor
			req.Filters = s.retained.Clone()
		}
		s.mu.Unlock()

		go execute(context.WithoutCancel(ctx), d, s, c, appendPage, req)

		return c.wait(ctx)
	}
}

// execute runs the network fetch for c and commits its result.
func execute[R, T any](ctx context.Context, d Descriptor[R, T], s *State[T], c *call[T], appendPage bool, req Request) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	items, cursor, nilResponse, err := runFetch(ctx, d, req)
	endpointFetchDuration.WithLabelValues(d.ErrorContext).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	stale := c.generation != s.generation

	switch {
	case err != nil:
		endpointFetchesTotal.WithLabelValues(d.ErrorContext, "error").Inc()
		if stale {
			c.page = Page[T]{Generation: c.generation}
		} else {
			c.page = s.pageLocked()
		}
	case stale:
		endpointFetchesTotal.WithLabelValues(d.ErrorContext, "discarded").Inc()
		c.page = Page[T]{Items: copyItems(items), NextCursor: cursor, Generation: c.generation}
	default:
		endpointFetchesTotal.WithLabelValues(d.ErrorContext, "success").Inc()
		s.nextCursor = cursor
		s.loaded = true
		if appendPage {
			s.cache = append(s.cache, items...)
		} else {
			s.cache = copyItems(items)
			s.retained = req.Filters.Clone()
		}
		c.page = s.pageLocked()
	}

	cached := len(s.cache)
	if s.pending == c {
		s.pending = nil
	}
	s.mu.Unlock()
	close(c.done)

	switch {
	case err != nil:
		s.logger.Warn().
			Err(err).
			Str("endpoint", d.ErrorContext).
			Str("cursor", req.Cursor).
			Bool("append", appendPage).
			Int("cached_items", cached).
			Msg("Endpoint fetch failed - serving cached items")
	case nilResponse:
		s.logger.Warn().
			Str("endpoint", d.ErrorContext).
			Str("cursor", req.Cursor).
			Msg("Endpoint returned no response - treating as empty page")
	case stale:
		s.logger.Debug().
			Str("endpoint", d.ErrorContext).
			Msg("Discarding fetch result after reset")
	default:
		s.logger.Debug().
			Str("endpoint", d.ErrorContext).
			Bool("append", appendPage).
			Int("fetched", len(items)).
			Int("cached_items", cached).
			Bool("has_more", cursor != "").
			Dur("duration", time.Since(start)).
			Msg("Endpoint fetch complete")
	}
}

// runFetch calls the descriptor functions, turning panics into errors so the
// in-flight marker is always released.
func runFetch[R, T any](ctx context.Context, d Descriptor[R, T], req Request) (items []T, cursor string, nilResponse bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, cursor, nilResponse = nil, "", false
			err = fmt.Errorf("%s: panic during fetch: %v", d.ErrorContext, r)
		}
	}()

	resp, err := d.Fetch(ctx, req)
	if err != nil {
		return nil, "", false, fmt.Errorf("%s: %w", d.ErrorContext, err)
	}
	if resp == nil {
		return nil, "", true, nil
	}
	return d.Map(resp), d.ExtractCursor(resp), false, nil
}

func copyItems[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
