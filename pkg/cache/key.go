package cache

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// KeyPrefix namespaces every cache key in Redis.
const KeyPrefix = "catalog"

// Key identifies a cached catalog response.
type Key struct {
	// Path is the request path (e.g. "/v1/users/42/inventory/items")
	Path string

	// Query holds the query parameters. Repeated parameters (category=a&category=b)
	// are all part of the key.
	Query url.Values

	// UserID scopes per-user responses (0 for shared resources such as thumbnails)
	UserID int64
}

// String generates a deterministic cache key.
// Format: catalog:path:param=v1,v2:user=42
//
// Example:
//
//	catalog:v1/users/42/inventory/items:category=hats:cursor=p2:limit=10:user=42
func (k Key) String() string {
	parts := []string{KeyPrefix}

	// Add path (normalized)
	if path := strings.Trim(k.Path, "/"); path != "" {
		parts = append(parts, path)
	}

	// Add query params (sorted for determinism)
	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		slices.Sort(names)

		for _, name := range names {
			values := slices.Clone(k.Query[name])
			slices.Sort(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	// Add user ID for per-user responses
	if k.UserID > 0 {
		parts = append(parts, fmt.Sprintf("user=%d", k.UserID))
	}

	return strings.Join(parts, ":")
}
