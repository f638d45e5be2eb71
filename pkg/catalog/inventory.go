// Package catalog binds the generic fetch engine to the avatar inventory of
// the catalog service: domain types, the inventory endpoint descriptor and the
// standard provider wiring.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/client"
	"github.com/Sternrassler/inventory-engine/pkg/endpoint"
)

// InventoryPage is the raw inventory page returned by the catalog service.
type InventoryPage = client.InventoryPage

// InventoryItem is one asset owned by a user.
type InventoryItem struct {
	AssetID     string
	Name        string
	AssetType   string
	Category    string
	Subcategory string
	Created     time.Time
}

// Tile is the presentation view of an inventory item.
type Tile struct {
	AssetID  string    `json:"assetId"`
	Title    string    `json:"title"`
	Kind     string    `json:"kind"`
	Category string    `json:"category,omitempty"`
	Created  time.Time `json:"created"`
}

// PageFetcher fetches inventory pages. *client.Client implements it.
type PageFetcher interface {
	FetchInventoryPage(ctx context.Context, userID int64, req endpoint.Request) (*client.InventoryPage, error)
}

// ItemFromAsset converts a wire item.
func ItemFromAsset(a client.AssetItem) InventoryItem {
	return InventoryItem{
		AssetID:     a.AssetID,
		Name:        a.Name,
		AssetType:   a.AssetType,
		Category:    a.Category,
		Subcategory: a.Subcategory,
		Created:     a.Created,
	}
}

// PageItems maps a page to inventory items.
func PageItems(page *InventoryPage) []InventoryItem {
	if page == nil {
		return nil
	}
	items := make([]InventoryItem, 0, len(page.Data))
	for _, a := range page.Data {
		items = append(items, ItemFromAsset(a))
	}
	return items
}

// PageCursor returns the continuation cursor of a page, "" on the last page.
func PageCursor(page *InventoryPage) string {
	return page.Cursor()
}

// InventoryDescriptor describes the paged inventory of userID.
func InventoryDescriptor(fetcher PageFetcher, userID int64) endpoint.Descriptor[InventoryPage, InventoryItem] {
	return endpoint.Descriptor[InventoryPage, InventoryItem]{
		Fetch: func(ctx context.Context, req endpoint.Request) (*InventoryPage, error) {
			return fetcher.FetchInventoryPage(ctx, userID, req)
		},
		Map:           PageItems,
		ExtractCursor: PageCursor,
		ErrorContext:  fmt.Sprintf("inventory of user %d", userID),
	}
}

// TileFromItem projects an item into its tile.
func TileFromItem(it InventoryItem) Tile {
	title := it.Name
	if title == "" {
		title = it.AssetID
	}
	return Tile{
		AssetID:  it.AssetID,
		Title:    title,
		Kind:     it.AssetType,
		Category: it.Category,
		Created:  it.Created,
	}
}

// ItemID returns the asset id of an item.
func ItemID(it InventoryItem) string {
	return it.AssetID
}

// CategoryOf selects the category; untagged items report ok=false.
func CategoryOf(it InventoryItem) (string, bool) {
	return it.Category, it.Category != ""
}

// SubcategoryOf selects the subcategory; untagged items report ok=false.
func SubcategoryOf(it InventoryItem) (string, bool) {
	return it.Subcategory, it.Subcategory != ""
}
