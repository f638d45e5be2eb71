package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/endpoint"
	"github.com/Sternrassler/inventory-engine/pkg/thumbnail"
)

// maxErrorBody limits how much of an error body ends up in an APIError.
const maxErrorBody = 512

// AssetItem is one inventory item as returned by the catalog service.
type AssetItem struct {
	AssetID     string    `json:"assetId"`
	Name        string    `json:"name"`
	AssetType   string    `json:"assetType"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Created     time.Time `json:"created"`
}

// InventoryPage is one page of a user's inventory.
type InventoryPage struct {
	Data []AssetItem `json:"data"`
	// NextPageCursor is null on the last page.
	NextPageCursor *string `json:"nextPageCursor"`
}

// Cursor returns the next page cursor, "" on the last page.
func (p *InventoryPage) Cursor() string {
	if p == nil || p.NextPageCursor == nil {
		return ""
	}
	return *p.NextPageCursor
}

// ThumbnailState is the render state of an asset thumbnail.
type ThumbnailState string

const (
	ThumbnailCompleted ThumbnailState = "Completed"
	ThumbnailPending   ThumbnailState = "Pending"
	ThumbnailBlocked   ThumbnailState = "Blocked"
	ThumbnailError     ThumbnailState = "Error"
)

// ThumbnailInfo locates the rendered thumbnail of one asset.
type ThumbnailInfo struct {
	TargetID string         `json:"targetId"`
	State    ThumbnailState `json:"state"`
	ImageURL string         `json:"imageUrl"`
}

type thumbnailResponse struct {
	Data []ThumbnailInfo `json:"data"`
}

// InventoryPath returns the inventory items path of a user.
func InventoryPath(userID int64) string {
	return fmt.Sprintf("/v1/users/%d/inventory/items", userID)
}

// FetchInventoryPage fetches one page of a user's inventory. The request's
// cursor is sent verbatim; every filter becomes a category parameter.
func (c *Client) FetchInventoryPage(ctx context.Context, userID int64, req endpoint.Request) (*InventoryPage, error) {
	query := url.Values{}
	if req.PageSize > 0 {
		query.Set("limit", strconv.Itoa(req.PageSize))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	for _, f := range req.Filters {
		query.Add("category", f)
	}

	var page InventoryPage
	if err := c.getJSON(withUserScope(ctx, userID), InventoryPath(userID), query, &page); err != nil {
		return nil, fmt.Errorf("fetch inventory page for user %d: %w", userID, err)
	}
	return &page, nil
}

// Locate looks up the thumbnail of an asset. Blocked, failed and unknown
// thumbnails report ok=false; pending ones return ErrThumbnailPending so the
// asset is tried again on a later load.
func (c *Client) Locate(ctx context.Context, assetID string) (string, bool, error) {
	query := url.Values{"assetIds": []string{assetID}}

	var out thumbnailResponse
	if err := c.getJSON(ctx, "/v1/thumbnails/assets", query, &out); err != nil {
		return "", false, fmt.Errorf("locate thumbnail for asset %s: %w", assetID, err)
	}

	for _, info := range out.Data {
		if info.TargetID != assetID {
			continue
		}
		switch info.State {
		case ThumbnailCompleted:
			if info.ImageURL == "" {
				return "", false, nil
			}
			return info.ImageURL, true, nil
		case ThumbnailPending:
			return "", false, fmt.Errorf("asset %s: %w", assetID, ErrThumbnailPending)
		default:
			return "", false, nil
		}
	}
	return "", false, nil
}

// Load downloads a thumbnail image.
func (c *Client) Load(ctx context.Context, assetID, location string) (*thumbnail.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(location, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load thumbnail for asset %s: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load thumbnail for asset %s: %w", assetID, apiErrorFrom(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read thumbnail for asset %s: %w", assetID, err)
	}

	return thumbnail.NewAsset(assetID, location, resp.Header.Get("Content-Type"), data, nil), nil
}

// Thumbnails returns a resolver that locates and loads thumbnails through c.
func (c *Client) Thumbnails() thumbnail.Resolver {
	return thumbnail.Chain(c, c)
}

// getJSON GETs path and decodes a 200 answer into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiErrorFrom(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// apiErrorFrom builds an APIError from a non-200 response, keeping the start
// of the body as message.
func apiErrorFrom(resp *http.Response) *APIError {
	msg := resp.Status
	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", resp.Status, body)
	}
	class := classifyStatus(resp.StatusCode)
	if class == "" {
		class = ErrorClassClient
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Message:    msg,
	}
}
