// Package endpoint coordinates paged fetches against remote catalog endpoints.
//
// A Descriptor describes one paged resource kind: how to fetch a page, how to map
// the raw response into items and how to read the continuation cursor. A State
// owns everything that changes at runtime for that resource: the merged item
// cache, the cursor, the filters used by the last full load and the pending
// fetch shared by concurrent callers.
//
// Fetch executes at most one network fetch per State at a time. Callers that
// arrive while a fetch is running wait for it and receive the same result:
//
//	desc := endpoint.Descriptor[catalog.InventoryPage, catalog.InventoryItem]{
//		Fetch: func(ctx context.Context, req endpoint.Request) (*catalog.InventoryPage, error) {
//			return api.FetchInventoryPage(ctx, userID, req)
//		},
//		Map:           catalog.PageItems,
//		ExtractCursor: catalog.PageCursor,
//		ErrorContext:  "inventory",
//	}
//	state := endpoint.NewState[catalog.InventoryItem](endpoint.DefaultOptions())
//	items, err := endpoint.Fetch(ctx, desc, state, false, 50, nil)
//
// Fetch failures never reach the caller. A failed fetch resolves to the items
// already cached (or nothing) and is logged with the descriptor's ErrorContext.
// The only errors returned are configuration errors (ErrInvalidDescriptor) and
// the caller's own context cancellation.
package endpoint
