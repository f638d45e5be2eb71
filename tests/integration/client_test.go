//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/inventory-engine/internal/testutil"
	"github.com/Sternrassler/inventory-engine/pkg/catalog"
	"github.com/Sternrassler/inventory-engine/pkg/client"
	"github.com/Sternrassler/inventory-engine/pkg/endpoint"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/Sternrassler/inventory-engine/pkg/provider"
	"github.com/Sternrassler/inventory-engine/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, mock *testutil.MockCatalog, redisClient *redis.Client) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(mock.URL(), redisClient, "IntegrationTest/1.0.0 (integration@test.com)")
	cfg.RateLimit = 0
	cfg.InitialBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestFullRequestFlow tests the complete request flow:
// Rate Limit → Cache → Catalog → Cache Update → Conditional Request → 304.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetInventory(42, testutil.GenerateItems(3))

	c := newClient(t, mock, redisClient)
	ctx := context.Background()
	path := client.InventoryPath(42)

	// Request 1: cache miss, response stored
	resp1, err := c.Get(ctx, path, nil)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()

	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("Request 1 status = %d, want %d", resp1.StatusCode, http.StatusOK)
	}
	if got := mock.GetConditionalCount(); got != 0 {
		t.Errorf("Conditional requests after request 1 = %d, want 0", got)
	}

	keys, err := redisClient.Keys(ctx, "catalog:*").Result()
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if !containsPrefix(keys, "catalog:v1/users/42/inventory/items") {
		t.Errorf("Expected cached inventory key, got %v", keys)
	}

	// Request 2: conditional request, 304 answered from cache
	resp2, err := c.Get(ctx, path, nil)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Request 2 status = %d, want %d", resp2.StatusCode, http.StatusOK)
	}
	if resp2.Header.Get("X-Cache") != "HIT" {
		t.Errorf("Request 2 X-Cache = %q, want HIT", resp2.Header.Get("X-Cache"))
	}
	if string(body1) != string(body2) {
		t.Errorf("Cached body differs:\n%s\n%s", body1, body2)
	}
	if got := mock.GetConditionalCount(); got != 1 {
		t.Errorf("Conditional requests = %d, want 1", got)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("Catalog requests = %d, want 2", got)
	}
}

// TestRateLimitStateShared verifies that quota headers land in Redis and gate
// every client sharing it.
func TestRateLimitStateShared(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetInventory(1, testutil.GenerateItems(1))
	mock.SetRateLimit(3, 60)

	c1 := newClient(t, mock, redisClient)
	c2 := newClient(t, mock, redisClient)
	ctx := context.Background()

	if _, err := c1.FetchInventoryPage(ctx, 1, endpoint.Request{PageSize: 10}); err != nil {
		t.Fatalf("First request failed: %v", err)
	}

	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger("test"))
	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.RequestsRemaining != 3 {
		t.Errorf("RequestsRemaining = %d, want 3", state.RequestsRemaining)
	}

	_, err = c2.FetchInventoryPage(ctx, 1, endpoint.Request{PageSize: 10})
	if !errors.Is(err, client.ErrRateLimited) {
		t.Errorf("Second client error = %v, want ErrRateLimited", err)
	}
	if got := mock.GetInventoryRequests(); got != 1 {
		t.Errorf("Inventory requests = %d, want 1", got)
	}
}

// TestRetryThenCache verifies that a retried request still ends up cached.
func TestRetryThenCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetInventory(9, testutil.GenerateItems(2))
	mock.FailNext(http.StatusServiceUnavailable, http.StatusBadGateway)

	c := newClient(t, mock, redisClient)
	ctx := context.Background()

	page, err := c.FetchInventoryPage(ctx, 9, endpoint.Request{PageSize: 10})
	if err != nil {
		t.Fatalf("FetchInventoryPage failed: %v", err)
	}
	if len(page.Data) != 2 {
		t.Errorf("Items = %d, want 2", len(page.Data))
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("Catalog requests = %d, want 3", got)
	}

	if _, err := c.FetchInventoryPage(ctx, 9, endpoint.Request{PageSize: 10}); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if got := mock.GetConditionalCount(); got != 1 {
		t.Errorf("Conditional requests = %d, want 1", got)
	}
}

// TestProviderFlow runs an inventory provider on top of the Redis backed
// client: paging, thumbnails, reload with revalidation.
func TestProviderFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetInventory(42, testutil.GenerateItems(30, "hats", "shirts"))

	c := newClient(t, mock, redisClient)

	cfg := catalog.DefaultProviderConfig(42)
	cfg.ServerPageSize = 20
	cfg.Thumbnails = c.Thumbnails()

	p, err := catalog.NewInventoryProvider(c, cfg)
	if err != nil {
		t.Fatalf("NewInventoryProvider failed: %v", err)
	}
	defer p.Dispose()

	ctx := context.Background()
	if err := p.Initialize(ctx, provider.Query{PageSize: 10}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := len(p.Entries()); got != 10 {
		t.Fatalf("Entries after Initialize = %d, want 10", got)
	}

	for p.HasMoreData() {
		if _, err := p.LoadMore(ctx, "", ""); err != nil {
			t.Fatalf("LoadMore failed: %v", err)
		}
	}
	if got := len(p.Entries()); got != 30 {
		t.Errorf("Entries after paging = %d, want 30", got)
	}
	if got := mock.GetInventoryRequests(); got != 2 {
		t.Errorf("Inventory requests = %d, want 2", got)
	}

	entry, err := p.GetDataForAssetID(ctx, "30")
	if err != nil {
		t.Fatalf("GetDataForAssetID failed: %v", err)
	}
	if entry.Thumbnail == nil || string(entry.Thumbnail.Data) != string(testutil.ImageBytes("30")) {
		t.Errorf("Thumbnail for asset 30 not loaded")
	}

	if err := p.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := len(p.Entries()); got != 10 {
		t.Errorf("Entries after Reload = %d, want 10", got)
	}
	if entry.Thumbnail != nil && !entry.Thumbnail.Released() {
		t.Error("Reload should release dropped thumbnails")
	}
	if got := mock.GetConditionalCount(); got == 0 {
		t.Error("Reload should revalidate cached pages with conditional requests")
	}
}

// TestConcurrentLoadsShareFetch verifies that concurrent UI loads of one
// provider share a single catalog request.
func TestConcurrentLoadsShareFetch(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockCatalog()
	defer mock.Close()
	mock.SetInventory(5, testutil.GenerateItems(15))
	mock.SetDelay(100 * time.Millisecond)

	c := newClient(t, mock, redisClient)
	p, err := catalog.NewInventoryProvider(c, catalog.DefaultProviderConfig(5))
	if err != nil {
		t.Fatalf("NewInventoryProvider failed: %v", err)
	}
	defer p.Dispose()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.GetAllAssetIDs(ctx); err != nil {
				t.Errorf("GetAllAssetIDs failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mock.GetInventoryRequests(); got != 1 {
		t.Errorf("Inventory requests = %d, want 1", got)
	}

	stats, _ := json.Marshal(p.Snapshot())
	t.Logf("Provider stats: %s", stats)
}

func containsPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
