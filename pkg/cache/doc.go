// Package cache provides the Redis-backed HTTP response cache used by the
// catalog client.
//
// This is a transport-level cache: it stores raw catalog responses so that
// repeated page requests can be revalidated with conditional requests
// (If-None-Match / If-Modified-Since) instead of being downloaded again. The
// engine's item cache lives in the endpoint and provider packages and never
// touches Redis.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:   "/v1/users/42/inventory/items",
//		Query:  url.Values{"cursor": []string{"p2"}},
//		UserID: 42,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the catalog service
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// a 304 Not Modified answer means the cached entry is still valid
//	}
//
// # Metrics
//
//   - catalog_cache_hits_total{layer="redis"} - Cache hits
//   - catalog_cache_misses_total - Cache misses
//   - catalog_cache_size_bytes{layer="redis"} - Bytes written to the cache
//   - catalog_304_responses_total - Conditional request successes
//   - catalog_conditional_requests_total - Conditional requests sent
//   - catalog_cache_errors_total{operation} - Cache operation errors
package cache
