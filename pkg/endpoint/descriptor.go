package endpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidDescriptor indicates a descriptor is missing required fields.
// This is a wiring bug, never a runtime condition.
var ErrInvalidDescriptor = errors.New("invalid endpoint descriptor")

// PagedResult is one page returned by a paged endpoint.
type PagedResult[T any] struct {
	Items []T
	// NextCursor continues the listing. Empty means there are no more pages.
	NextCursor string
}

// Filters is an ordered list of category filters passed to the remote endpoint.
type Filters []string

// Clone returns an independent copy of the filters.
func (f Filters) Clone() Filters {
	if f == nil {
		return nil
	}
	return slices.Clone(f)
}

// Request carries the parameters of a single page fetch.
type Request struct {
	// Cursor is echoed back verbatim from the previous page ("" for the first page).
	Cursor string
	// PageSize is a hint; the endpoint may return fewer or more items.
	PageSize int
	Filters  Filters
}

// Descriptor describes one paged resource kind. R is the raw response type,
// T the item type. Descriptors are created once and never mutated.
type Descriptor[R, T any] struct {
	// Fetch performs the network call. A nil response with a nil error is
	// treated as an empty page.
	Fetch func(ctx context.Context, req Request) (*R, error)

	// Map converts a raw response into items.
	Map func(resp *R) []T

	// ExtractCursor reads the continuation cursor from a raw response.
	ExtractCursor func(resp *R) string

	// ErrorContext names the resource in logs and metrics.
	ErrorContext string
}

// Validate reports missing required fields.
func (d Descriptor[R, T]) Validate() error {
	var missing []string
	if d.Fetch == nil {
		missing = append(missing, "Fetch")
	}
	if d.Map == nil {
		missing = append(missing, "Map")
	}
	if d.ExtractCursor == nil {
		missing = append(missing, "ExtractCursor")
	}
	if d.ErrorContext == "" {
		missing = append(missing, "ErrorContext")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrInvalidDescriptor, missing)
	}
	return nil
}

// PagedDescriptor builds a descriptor for endpoints that already return a
// PagedResult, so Map and ExtractCursor need not be written by hand.
func PagedDescriptor[T any](name string, fetch func(ctx context.Context, req Request) (*PagedResult[T], error)) Descriptor[PagedResult[T], T] {
	return Descriptor[PagedResult[T], T]{
		Fetch: fetch,
		Map: func(resp *PagedResult[T]) []T {
			return resp.Items
		},
		ExtractCursor: func(resp *PagedResult[T]) string {
			return resp.NextCursor
		},
		ErrorContext: name,
	}
}
