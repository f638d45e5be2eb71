package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedBackend serves items in fixed pages with cursors "p2", "p3", ...
type pagedBackend struct {
	items    []string
	pageSize int

	calls    atomic.Int32
	gate     chan struct{} // when set, each fetch blocks until it is closed
	fail     atomic.Bool
	mu       sync.Mutex
	requests []Request
}

func newPagedBackend(total, pageSize int) *pagedBackend {
	items := make([]string, total)
	for i := range items {
		items[i] = fmt.Sprintf("item-%02d", i+1)
	}
	return &pagedBackend{items: items, pageSize: pageSize}
}

func (b *pagedBackend) fetch(ctx context.Context, req Request) (*PagedResult[string], error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.fail.Load() {
		return nil, errors.New("backend unavailable")
	}

	page := 1
	if req.Cursor != "" {
		if _, err := fmt.Sscanf(req.Cursor, "p%d", &page); err != nil {
			return nil, fmt.Errorf("bad cursor %q", req.Cursor)
		}
	}
	start := (page - 1) * b.pageSize
	end := min(start+b.pageSize, len(b.items))
	res := &PagedResult[string]{Items: append([]string(nil), b.items[start:end]...)}
	if end < len(b.items) {
		res.NextCursor = fmt.Sprintf("p%d", page+1)
	}
	return res, nil
}

func (b *pagedBackend) lastRequest() Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func testOptions() Options {
	return Options{Timeout: 5 * time.Second, Logger: zerolog.Nop()}
}

func TestFetch_SingleFlight(t *testing.T) {
	backend := newPagedBackend(25, 10)
	backend.gate = make(chan struct{})
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	const callers = 20
	results := make([][]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items, err := Fetch(ctx, desc, state, false, 10, nil)
			assert.NoError(t, err)
			results[i] = items
		}(i)
	}

	require.Eventually(t, state.InFlight, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	assert.Equal(t, int32(1), backend.calls.Load(), "exactly one fetch should execute")
	for i := range results {
		assert.Equal(t, results[0], results[i])
	}
	assert.Len(t, results[0], 10)
	assert.False(t, state.InFlight())
}

func TestFetch_ReplaceAndAppend(t *testing.T) {
	backend := newPagedBackend(25, 10)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	first, err := Fetch(ctx, desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Len(t, first, 10)
	assert.Equal(t, "p2", state.NextCursor())

	// Full load with a populated cache does not hit the network.
	again, err := Fetch(ctx, desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), backend.calls.Load())

	second, err := Fetch(ctx, desc, state, true, 10, nil)
	require.NoError(t, err)
	assert.Len(t, second, len(first)+10)
	assert.Equal(t, "p3", state.NextCursor())

	third, err := Fetch(ctx, desc, state, true, 10, nil)
	require.NoError(t, err)
	assert.Len(t, third, 25)
	assert.Empty(t, state.NextCursor())
	assert.Equal(t, backend.items, third)

	// Exhausted: append returns the cache without refetching page one.
	fourth, err := Fetch(ctx, desc, state, true, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, third, fourth)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestFetchPage_CursorMatchesItems(t *testing.T) {
	backend := newPagedBackend(25, 10)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	first, err := FetchPage(ctx, desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, "p2", first.NextCursor)
	assert.Zero(t, first.Generation)

	_, err = FetchPage(ctx, desc, state, true, 10, nil)
	require.NoError(t, err)

	// A cache-served full load reports the cursor of the grown cache.
	cached, err := FetchPage(ctx, desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Len(t, cached.Items, 20)
	assert.Equal(t, "p3", cached.NextCursor)

	state.Reset()
	assert.Equal(t, uint64(1), state.Generation())

	fresh, err := FetchPage(ctx, desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Len(t, fresh.Items, 10)
	assert.Equal(t, "p2", fresh.NextCursor)
	assert.Equal(t, uint64(1), fresh.Generation)
}

func TestFetch_ReturnsDefensiveCopy(t *testing.T) {
	backend := newPagedBackend(5, 10)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())

	items, err := Fetch(context.Background(), desc, state, false, 10, nil)
	require.NoError(t, err)
	items[0] = "mutated"

	assert.Equal(t, "item-01", state.Items()[0])
}

func TestFetch_AppendUsesRetainedFilters(t *testing.T) {
	backend := newPagedBackend(25, 10)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	_, err := Fetch(ctx, desc, state, false, 10, Filters{"hats"})
	require.NoError(t, err)
	assert.Equal(t, Filters{"hats"}, backend.lastRequest().Filters)

	_, err = Fetch(ctx, desc, state, true, 10, Filters{"shoes"})
	require.NoError(t, err)

	last := backend.lastRequest()
	assert.Equal(t, Filters{"hats"}, last.Filters, "continuation must keep the original filters")
	assert.Equal(t, "p2", last.Cursor)
	assert.Equal(t, Filters{"hats"}, state.RetainedFilters())
}

func TestFetch_FailureServesCache(t *testing.T) {
	backend := newPagedBackend(25, 10)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	t.Run("empty cache resolves to empty", func(t *testing.T) {
		backend.fail.Store(true)
		items, err := Fetch(ctx, desc, state, false, 10, nil)
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
		assert.False(t, state.InFlight())
	})

	t.Run("retry succeeds after failure", func(t *testing.T) {
		backend.fail.Store(false)
		items, err := Fetch(ctx, desc, state, false, 10, nil)
		require.NoError(t, err)
		assert.Len(t, items, 10)
	})

	t.Run("failed append keeps existing cache and cursor", func(t *testing.T) {
		backend.fail.Store(true)
		items, err := Fetch(ctx, desc, state, true, 10, nil)
		require.NoError(t, err)
		assert.Len(t, items, 10)
		assert.Equal(t, "p2", state.NextCursor())
		assert.False(t, state.InFlight())
	})
}

func TestFetch_NilResponseIsEmptyPage(t *testing.T) {
	desc := Descriptor[PagedResult[string], string]{
		Fetch: func(ctx context.Context, req Request) (*PagedResult[string], error) {
			return nil, nil
		},
		Map:           func(r *PagedResult[string]) []string { return r.Items },
		ExtractCursor: func(r *PagedResult[string]) string { return r.NextCursor },
		ErrorContext:  "nil-response",
	}
	state := NewState[string](testOptions())

	items, err := Fetch(context.Background(), desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, state.NextCursor())
}

func TestFetch_PanicReleasesInFlight(t *testing.T) {
	desc := Descriptor[PagedResult[string], string]{
		Fetch: func(ctx context.Context, req Request) (*PagedResult[string], error) {
			return &PagedResult[string]{Items: []string{"a"}}, nil
		},
		Map: func(r *PagedResult[string]) []string {
			panic("bad mapping")
		},
		ExtractCursor: func(r *PagedResult[string]) string { return "" },
		ErrorContext:  "panicky",
	}
	state := NewState[string](testOptions())

	items, err := Fetch(context.Background(), desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, state.InFlight())
}

func TestFetch_InvalidDescriptor(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor[PagedResult[string], string]
	}{
		{name: "empty", desc: Descriptor[PagedResult[string], string]{}},
		{
			name: "missing map",
			desc: Descriptor[PagedResult[string], string]{
				Fetch:         func(context.Context, Request) (*PagedResult[string], error) { return nil, nil },
				ExtractCursor: func(*PagedResult[string]) string { return "" },
				ErrorContext:  "x",
			},
		},
		{
			name: "missing error context",
			desc: Descriptor[PagedResult[string], string]{
				Fetch:         func(context.Context, Request) (*PagedResult[string], error) { return nil, nil },
				Map:           func(*PagedResult[string]) []string { return nil },
				ExtractCursor: func(*PagedResult[string]) string { return "" },
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewState[string](testOptions())
			_, err := Fetch(context.Background(), tt.desc, state, false, 10, nil)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)

			_, err = NewResource(tt.desc, testOptions())
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}

	_, err := Fetch(context.Background(), PagedDescriptor("x", newPagedBackend(1, 1).fetch), nil, false, 1, nil)
	assert.ErrorIs(t, err, ErrNilState)
}

func TestFetch_CallerCancellationDoesNotCancelSharedFetch(t *testing.T) {
	backend := newPagedBackend(25, 10)
	backend.gate = make(chan struct{})
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Fetch(ctx, desc, state, false, 10, nil)
		errCh <- err
	}()

	require.Eventually(t, state.InFlight, time.Second, time.Millisecond)

	waiter := make(chan []string, 1)
	go func() {
		items, _ := Fetch(context.Background(), desc, state, false, 10, nil)
		waiter <- items
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(backend.gate)
	assert.Len(t, <-waiter, 10)
	assert.Equal(t, 10, state.Len(), "cancelled caller must not prevent the cache from being populated")
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestState_ResetDuringFetch(t *testing.T) {
	backend := newPagedBackend(25, 10)
	backend.gate = make(chan struct{})
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](testOptions())
	ctx := context.Background()

	first := make(chan []string, 1)
	go func() {
		items, _ := Fetch(ctx, desc, state, false, 10, nil)
		first <- items
	}()
	require.Eventually(t, state.InFlight, time.Second, time.Millisecond)

	state.Reset()

	second := make(chan []string, 1)
	go func() {
		items, _ := Fetch(ctx, desc, state, false, 10, nil)
		second <- items
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), backend.calls.Load(), "a new fetch must not overlap the draining one")

	close(backend.gate)
	assert.Len(t, <-first, 10)
	assert.Len(t, <-second, 10)
	assert.Equal(t, int32(2), backend.calls.Load())
	assert.Equal(t, 10, state.Len())
	assert.Equal(t, "p2", state.NextCursor())
}

func TestFetch_Timeout(t *testing.T) {
	backend := newPagedBackend(25, 10)
	backend.gate = make(chan struct{})
	defer close(backend.gate)
	desc := PagedDescriptor("items", backend.fetch)
	state := NewState[string](Options{Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()})

	items, err := Fetch(context.Background(), desc, state, false, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, state.InFlight())
}
