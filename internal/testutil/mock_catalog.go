// Package testutil provides a mock catalog service for tests.
package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPageLimit is the page size used when a request has no limit.
const DefaultPageLimit = 10

// MaxPageLimit caps the limit parameter.
const MaxPageLimit = 100

// Item is an inventory item as served by the mock.
type Item struct {
	AssetID     string    `json:"assetId"`
	Name        string    `json:"name"`
	AssetType   string    `json:"assetType"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Created     time.Time `json:"created"`
}

// Thumbnail states served by /v1/thumbnails/assets.
const (
	ThumbnailCompleted = "Completed"
	ThumbnailPending   = "Pending"
	ThumbnailBlocked   = "Blocked"
	// ThumbnailNone omits the asset from the response entirely.
	ThumbnailNone = ""
)

// MockResponse defines a canned response for SetResponse.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCatalog is a configurable in-process catalog service.
type MockCatalog struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu          sync.RWMutex
	handlers    map[string]http.HandlerFunc
	inventories map[int64][]Item
	thumbs      map[string]string
	maxAge      int
	remaining   int
	reset       int
	failures    []int
	delay       time.Duration
	hold        chan struct{}

	// Tracking
	RequestCount      int
	ConditionalCount  int
	InventoryRequests int
	ThumbnailRequests int
	ImageRequests     int
	LastRequestHeader http.Header
	LastQuery         map[string][]string
}

// NewMockCatalog creates and starts a mock catalog server.
func NewMockCatalog() *MockCatalog {
	m := &MockCatalog{
		mux:         http.NewServeMux(),
		handlers:    make(map[string]http.HandlerFunc),
		inventories: make(map[int64][]Item),
		thumbs:      make(map[string]string),
		maxAge:      60,
		remaining:   100,
		reset:       60,
	}

	m.mux.HandleFunc("GET /v1/users/{userID}/inventory/items", m.handleInventory)
	m.mux.HandleFunc("GET /v1/thumbnails/assets", m.handleThumbnails)
	m.mux.HandleFunc("GET /images/{file}", m.handleImage)

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *MockCatalog) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.LastQuery = r.URL.Query()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.ConditionalCount++
	}
	handler, exists := m.handlers[r.URL.Path]
	remaining, reset := m.remaining, m.reset
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

	if exists {
		handler(w, r)
		return
	}
	m.mux.ServeHTTP(w, r)
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.Release()
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.InventoryRequests = 0
	m.ThumbnailRequests = 0
	m.ImageRequests = 0
	m.LastRequestHeader = nil
	m.LastQuery = nil
}

// SetInventory replaces the inventory of a user. Every item gets a completed
// thumbnail unless SetThumbnail says otherwise.
func (m *MockCatalog) SetInventory(userID int64, items []Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventories[userID] = slices.Clone(items)
}

// SetThumbnail overrides the thumbnail state of an asset.
func (m *MockCatalog) SetThumbnail(assetID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == ThumbnailNone {
		m.thumbs[assetID] = "none"
		return
	}
	m.thumbs[assetID] = state
}

// SetMaxAge sets the Cache-Control max-age of inventory and thumbnail answers.
// Zero sends no-cache.
func (m *MockCatalog) SetMaxAge(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAge = seconds
}

// SetRateLimit sets the quota headers sent with every response.
func (m *MockCatalog) SetRateLimit(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.reset = resetSeconds
}

// FailNext makes the next len(statuses) inventory requests fail with the
// given status codes, in order.
func (m *MockCatalog) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// SetDelay delays every inventory response.
func (m *MockCatalog) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Hold blocks inventory responses until Release is called.
func (m *MockCatalog) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold == nil {
		m.hold = make(chan struct{})
	}
}

// Release unblocks held inventory responses.
func (m *MockCatalog) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockCatalog) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetInventoryRequests returns the number of inventory page requests.
func (m *MockCatalog) GetInventoryRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.InventoryRequests
}

// GetThumbnailRequests returns the number of thumbnail lookups.
func (m *MockCatalog) GetThumbnailRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ThumbnailRequests
}

// GetImageRequests returns the number of image downloads.
func (m *MockCatalog) GetImageRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ImageRequests
}

type inventoryPage struct {
	Data           []Item  `json:"data"`
	NextPageCursor *string `json:"nextPageCursor"`
}

func (m *MockCatalog) handleInventory(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.InventoryRequests++
	delay, hold := m.delay, m.hold
	var failure int
	if len(m.failures) > 0 {
		failure, m.failures = m.failures[0], m.failures[1:]
	}
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if failure != 0 {
		writeError(w, failure, "injected failure")
		return
	}

	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	query := r.URL.Query()
	limit := DefaultPageLimit
	if s := query.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(limit, MaxPageLimit)
	}

	offset := 0
	if cursor := query.Get("cursor"); cursor != "" {
		offset, err = decodeCursor(cursor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
	}

	m.mu.RLock()
	items, ok := m.inventories[userID]
	m.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	if categories := query["category"]; len(categories) > 0 {
		filtered := make([]Item, 0, len(items))
		for _, it := range items {
			if slices.Contains(categories, it.Category) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	page := inventoryPage{Data: []Item{}}
	if offset < len(items) {
		end := min(offset+limit, len(items))
		page.Data = items[offset:end]
		if end < len(items) {
			next := encodeCursor(end)
			page.NextPageCursor = &next
		}
	}

	m.writeCacheable(w, r, page)
}

type thumbnailInfo struct {
	TargetID string `json:"targetId"`
	State    string `json:"state"`
	ImageURL string `json:"imageUrl"`
}

func (m *MockCatalog) handleThumbnails(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.ThumbnailRequests++
	m.mu.Unlock()

	var ids []string
	for _, v := range r.URL.Query()["assetIds"] {
		ids = append(ids, strings.Split(v, ",")...)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "assetIds required")
		return
	}

	out := struct {
		Data []thumbnailInfo `json:"data"`
	}{Data: []thumbnailInfo{}}

	m.mu.RLock()
	for _, id := range ids {
		state, ok := m.thumbs[id]
		if !ok {
			state = ThumbnailCompleted
		}
		if state == "none" {
			continue
		}
		info := thumbnailInfo{TargetID: id, State: state}
		if state == ThumbnailCompleted {
			info.ImageURL = m.server.URL + "/images/" + id + ".png"
		}
		out.Data = append(out.Data, info)
	}
	m.mu.RUnlock()

	m.writeCacheable(w, r, out)
}

func (m *MockCatalog) handleImage(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.ImageRequests++
	m.mu.Unlock()

	assetID := strings.TrimSuffix(r.PathValue("file"), ".png")
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(ImageBytes(assetID))
}

// writeCacheable writes v as JSON with an ETag and answers matching
// conditional requests with 304.
func (m *MockCatalog) writeCacheable(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sum := sha1.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	m.mu.RLock()
	maxAge := m.maxAge
	m.mu.RUnlock()

	if maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("ETag", etag)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"errors":[{"code":%d,"message":%q}]}`, status, msg)
}

func encodeCursor(offset int) string {
	return "c" + strconv.Itoa(offset)
}

func decodeCursor(cursor string) (int, error) {
	if !strings.HasPrefix(cursor, "c") {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	offset, err := strconv.Atoi(cursor[1:])
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return offset, nil
}

// ImageBytes returns the image payload served for an asset.
func ImageBytes(assetID string) []byte {
	return []byte("\x89PNG-" + assetID)
}

// GenerateItems returns n items with ids "1".."n", cycling through the given
// categories.
func GenerateItems(n int, categories ...string) []Item {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]Item, n)
	for i := range items {
		id := strconv.Itoa(i + 1)
		items[i] = Item{
			AssetID:   id,
			Name:      "Item " + id,
			AssetType: "Hat",
			Created:   created.Add(time.Duration(i) * time.Hour),
		}
		if len(categories) > 0 {
			items[i].Category = categories[i%len(categories)]
		}
	}
	return items
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockCatalog) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockCatalog) GetLastQuery() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}
