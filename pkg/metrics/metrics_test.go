package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/Sternrassler/inventory-engine/pkg/cache"
	_ "github.com/Sternrassler/inventory-engine/pkg/provider"
	_ "github.com/Sternrassler/inventory-engine/pkg/ratelimit"
	_ "github.com/Sternrassler/inventory-engine/pkg/thumbnail"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestNames(t *testing.T) {
	names, err := Names("catalog_")
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}

	want := []string{
		"catalog_304_responses_total",
		"catalog_cache_misses_total",
		"catalog_conditional_requests_total",
		"catalog_rate_limit_blocks_total",
		"catalog_rate_limit_remaining",
	}
	for _, w := range want {
		if !contains(names, w) {
			t.Errorf("Names(catalog_) missing %s in %v", w, names)
		}
	}

	inventory, err := Names("inventory_")
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}
	for _, w := range []string{"inventory_provider_load_more_rejected_total", "inventory_thumbnail_releases_total"} {
		if !contains(inventory, w) {
			t.Errorf("Names(inventory_) missing %s in %v", w, inventory)
		}
	}
}

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "catalog_rate_limit_remaining") {
		t.Error("metrics output should contain catalog_rate_limit_remaining")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
