// Package provider exposes a paged catalog resource to presentation code.
//
// A Provider sits on top of an endpoint coordinator (the Source) and keeps two
// levels of pagination apart:
//
//   - server pages, fetched through the Source with continuation cursors;
//   - UI pages, drawn from a staging buffer of every item fetched so far, with
//     a page size chosen by the caller.
//
// Items that pass the category filters are sorted, converted to the caller's
// view type and appended to the staging buffer. Advancing the UI cursor merges
// the next slice of the buffer into an id-indexed cache, and thumbnails for
// newly merged entries are resolved concurrently before the call returns.
//
// Lifecycle:
//
//	Uninitialized -> Initialize -> Loading -> Ready
//	Ready -> Reload -> Loading -> Ready
//
// Transient fetch failures never surface as errors. Callers see fewer items
// and can retry with LoadMore or Reload; HasMoreData and IsLoadingMore report
// the current state.
package provider
