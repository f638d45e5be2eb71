package catalog

import (
	"fmt"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/endpoint"
	"github.com/Sternrassler/inventory-engine/pkg/provider"
	"github.com/Sternrassler/inventory-engine/pkg/thumbnail"
	"github.com/rs/zerolog"
)

// Sort orders accepted by ProviderConfig.SortBy.
const (
	SortServer  = ""
	SortName    = "name"
	SortCreated = "created"
)

// sortableTime is fixed width so creation times order lexically.
const sortableTime = "20060102T150405.000000000"

// InventoryProvider is the provider type used for inventories.
type InventoryProvider = provider.Provider[InventoryItem, Tile]

// InventoryEntry is one cached inventory tile.
type InventoryEntry = provider.Entry[Tile]

// ProviderConfig configures NewInventoryProvider.
type ProviderConfig struct {
	UserID int64

	// PageSize is the UI page size; ServerPageSize the page size requested
	// from the catalog (zero uses PageSize).
	PageSize       int
	ServerPageSize int

	// Filters are sent to the catalog as category parameters.
	Filters []string

	// Category and Subcategory narrow the initial load client-side.
	Category    string
	Subcategory string

	SortBy string

	// FetchTimeout bounds one page fetch.
	FetchTimeout time.Duration

	// Thumbnails is optional.
	Thumbnails      thumbnail.Resolver
	ThumbnailConfig thumbnail.Config

	Logger *zerolog.Logger
}

// DefaultProviderConfig returns the configuration used by inventoryctl.
func DefaultProviderConfig(userID int64) ProviderConfig {
	return ProviderConfig{
		UserID:          userID,
		PageSize:        10,
		ServerPageSize:  50,
		SortBy:          SortServer,
		FetchTimeout:    30 * time.Second,
		ThumbnailConfig: thumbnail.DefaultConfig(),
	}
}

// NewInventoryProvider wires an inventory provider for cfg.UserID on top of a
// fresh coordinator state.
func NewInventoryProvider(fetcher PageFetcher, cfg ProviderConfig) (*InventoryProvider, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil page fetcher", provider.ErrInvalidOptions)
	}
	if cfg.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive (got %d)", provider.ErrInvalidOptions, cfg.UserID)
	}

	sortKey, err := sortKeyFor(cfg.SortBy)
	if err != nil {
		return nil, err
	}

	logger := provider.DefaultLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	opts := endpoint.DefaultOptions()
	opts.Logger = logger
	if cfg.FetchTimeout > 0 {
		opts.Timeout = cfg.FetchTimeout
	}

	source, err := endpoint.NewResource(InventoryDescriptor(fetcher, cfg.UserID), opts)
	if err != nil {
		return nil, err
	}

	return provider.New(provider.Options[InventoryItem, Tile]{
		Name:            fmt.Sprintf("inventory:%d", cfg.UserID),
		Source:          source,
		ID:              ItemID,
		Convert:         TileFromItem,
		SortKey:         sortKey,
		Category:        CategoryOf,
		Subcategory:     SubcategoryOf,
		Thumbnails:      cfg.Thumbnails,
		ThumbnailConfig: cfg.ThumbnailConfig,
		ServerPageSize:  cfg.ServerPageSize,
		Filters:         endpoint.Filters(cfg.Filters).Clone(),
		InitialQuery: provider.Query{
			Category:    cfg.Category,
			Subcategory: cfg.Subcategory,
			PageSize:    cfg.PageSize,
		},
		Logger: logger,
	})
}

func sortKeyFor(sortBy string) (func(InventoryItem) string, error) {
	switch sortBy {
	case SortServer:
		return nil, nil
	case SortName:
		return func(it InventoryItem) string { return it.Name }, nil
	case SortCreated:
		return func(it InventoryItem) string { return it.Created.UTC().Format(sortableTime) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown sort order %q", provider.ErrInvalidOptions, sortBy)
	}
}
