package endpoint

import "context"

// Resource binds a descriptor to the state it owns.
type Resource[R, T any] struct {
	desc  Descriptor[R, T]
	state *State[T]
}

// NewResource validates d and creates a fresh state for it.
func NewResource[R, T any](d Descriptor[R, T], opts Options) (*Resource[R, T], error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &Resource[R, T]{
		desc:  d,
		state: NewState[T](opts),
	}, nil
}

// Load fetches through the coordinator. See FetchPage.
func (r *Resource[R, T]) Load(ctx context.Context, appendPage bool, pageSize int, filters Filters) (Page[T], error) {
	return FetchPage(ctx, r.desc, r.state, appendPage, pageSize, filters)
}

// NextCursor returns the cursor of the next server page.
func (r *Resource[R, T]) NextCursor() string {
	return r.state.NextCursor()
}

// Reset clears the cached pages.
func (r *Resource[R, T]) Reset() {
	r.state.Reset()
}

// Name returns the descriptor's error context.
func (r *Resource[R, T]) Name() string {
	return r.desc.ErrorContext
}

// State exposes the underlying state.
func (r *Resource[R, T]) State() *State[T] {
	return r.state
}
