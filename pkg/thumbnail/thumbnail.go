// Package thumbnail resolves catalog asset ids to loaded thumbnail images.
//
// Resolution happens in two steps: a Locator maps an asset id to zero or one
// image location, and a Loader fetches the image at that location. Zero
// locations is valid and means the asset has no thumbnail.
//
// Loaded images are returned as *Asset handles. Handles are owned by whoever
// caches them and must be released with Release when dropped.
package thumbnail

import (
	"context"
	"sync/atomic"
)

// Asset is a loaded thumbnail image.
type Asset struct {
	AssetID     string
	Location    string
	ContentType string
	Data        []byte

	released  atomic.Bool
	onRelease func()
}

// NewAsset creates a handle. onRelease, if set, runs once on the first Release.
func NewAsset(assetID, location, contentType string, data []byte, onRelease func()) *Asset {
	return &Asset{
		AssetID:     assetID,
		Location:    location,
		ContentType: contentType,
		Data:        data,
		onRelease:   onRelease,
	}
}

// Release hands the image back to its owner. Safe to call more than once.
func (a *Asset) Release() {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}
	if a.onRelease != nil {
		a.onRelease()
	}
	thumbnailReleasesTotal.Inc()
}

// Released reports whether Release was called.
func (a *Asset) Released() bool {
	return a != nil && a.released.Load()
}

// Size returns the image size in bytes.
func (a *Asset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Resolver resolves an asset id to its thumbnail.
type Resolver interface {
	// Resolve returns (nil, nil) when the asset has no thumbnail.
	Resolve(ctx context.Context, assetID string) (*Asset, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, assetID string) (*Asset, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, assetID string) (*Asset, error) {
	return f(ctx, assetID)
}

// Locator maps an asset id to the location of its thumbnail image.
type Locator interface {
	// Locate returns ok=false when the asset has no thumbnail.
	Locate(ctx context.Context, assetID string) (location string, ok bool, err error)
}

// Loader loads the image stored at a location.
type Loader interface {
	Load(ctx context.Context, assetID, location string) (*Asset, error)
}

// Chain combines a Locator and a Loader into a Resolver.
func Chain(locator Locator, loader Loader) Resolver {
	return ResolverFunc(func(ctx context.Context, assetID string) (*Asset, error) {
		location, ok, err := locator.Locate(ctx, assetID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return loader.Load(ctx, assetID, location)
	})
}
