package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Sternrassler/inventory-engine/pkg/catalog"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/Sternrassler/inventory-engine/pkg/metrics"
	"github.com/Sternrassler/inventory-engine/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *Config) *cobra.Command {
	var (
		port       int
		users      []int64
		category   string
		sortBy     string
		thumbnails bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve inventories over HTTP",
		Long: `Serve exposes one inventory provider per user over HTTP.

Providers are created by the first inventory or reload request of a user,
up to MAX_USERS. Users passed with --user are initialized at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := newCatalogClient(ctx, *cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			tmpl := catalog.DefaultProviderConfig(0)
			tmpl.PageSize = cfg.PageSize
			tmpl.ServerPageSize = cfg.ServerPageSize
			tmpl.Category = category
			tmpl.SortBy = sortBy
			if thumbnails {
				tmpl.Thumbnails = c.Thumbnails()
			}

			srv := newServer(c, tmpl)
			srv.maxProviders = cfg.MaxUsers
			defer srv.Close()

			for _, userID := range users {
				if err := srv.warm(ctx, userID); err != nil {
					return err
				}
			}

			return srv.listenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port))
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Listen port (overrides PORT)")
	cmd.Flags().Int64SliceVar(&users, "user", nil, "User ids to initialize at startup")
	cmd.Flags().StringVar(&category, "category", "", "Client-side category for initial loads")
	cmd.Flags().StringVar(&sortBy, "sort", catalog.SortServer, "Sort order: name, created (default server order)")
	cmd.Flags().BoolVar(&thumbnails, "thumbnails", true, "Resolve thumbnails for exposed items")

	return cmd
}

const defaultMaxProviders = 1000

var (
	errNoProvider       = errors.New("inventory not loaded")
	errTooManyProviders = errors.New("too many inventories loaded")
)

// server keeps one inventory provider per user, at most maxProviders.
type server struct {
	fetcher catalog.PageFetcher
	tmpl    catalog.ProviderConfig
	logger  zerolog.Logger

	mu           sync.Mutex
	providers    map[int64]*catalog.InventoryProvider
	maxProviders int
}

func newServer(fetcher catalog.PageFetcher, tmpl catalog.ProviderConfig) *server {
	return &server{
		fetcher:      fetcher,
		tmpl:         tmpl,
		logger:       logging.NewLogger("inventoryctl"),
		providers:    make(map[int64]*catalog.InventoryProvider),
		maxProviders: defaultMaxProviders,
	}
}

// existing returns the provider of userID without creating one.
func (s *server) existing(userID int64) (*catalog.InventoryProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[userID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w for user %d", errNoProvider, userID)
}

// provider returns the provider of userID, creating it on first use.
func (s *server) provider(userID int64) (*catalog.InventoryProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[userID]; ok {
		return p, nil
	}
	if s.maxProviders > 0 && len(s.providers) >= s.maxProviders {
		return nil, fmt.Errorf("%w (limit %d)", errTooManyProviders, s.maxProviders)
	}

	cfg := s.tmpl
	cfg.UserID = userID
	cfg.Filters = append([]string(nil), s.tmpl.Filters...)
	logger := s.logger.With().Int64("user_id", userID).Logger()
	cfg.Logger = &logger

	p, err := catalog.NewInventoryProvider(s.fetcher, cfg)
	if err != nil {
		return nil, err
	}
	s.providers[userID] = p
	return p, nil
}

func (s *server) initialQuery() provider.Query {
	return provider.Query{
		Category:    s.tmpl.Category,
		Subcategory: s.tmpl.Subcategory,
		PageSize:    s.tmpl.PageSize,
	}
}

// warm initializes the provider of userID.
func (s *server) warm(ctx context.Context, userID int64) error {
	p, err := s.provider(userID)
	if err != nil {
		return fmt.Errorf("user %d: %w", userID, err)
	}
	if err := p.Initialize(ctx, s.initialQuery()); err != nil {
		return fmt.Errorf("initialize user %d: %w", userID, err)
	}
	s.logger.Info().Int64("user_id", userID).Int("exposed", len(p.Entries())).Msg("Provider initialized")
	return nil
}

// Close disposes every provider.
func (s *server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.providers {
		p.Dispose()
		delete(s.providers, id)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /users/{userID}/inventory", s.withProvider(s.provider, s.handleInventory))
	mux.HandleFunc("POST /users/{userID}/inventory/reload", s.withProvider(s.provider, s.handleReload))
	mux.HandleFunc("POST /users/{userID}/inventory/more", s.withProvider(s.existing, s.handleMore))
	mux.HandleFunc("GET /users/{userID}/inventory/status", s.withProvider(s.existing, s.handleStatus))
	mux.HandleFunc("GET /users/{userID}/inventory/assets/{assetID}", s.withProvider(s.existing, s.handleAsset))
	mux.HandleFunc("GET /users/{userID}/inventory/assets/{assetID}/thumbnail", s.withProvider(s.existing, s.handleThumbnail))
	return mux
}

func (s *server) listenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting inventory server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down inventory server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type providerHandler func(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider)

// withProvider resolves the {userID} path value to a provider through get.
func (s *server) withProvider(get func(int64) (*catalog.InventoryProvider, error), next providerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid user id %q", r.PathValue("userID")))
			return
		}
		p, err := get(userID)
		switch {
		case errors.Is(err, errNoProvider):
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, errTooManyProviders):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next(w, r, userID, p)
	}
}

// tileView is the JSON form of an exposed inventory entry.
type tileView struct {
	AssetID   string    `json:"asset_id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"`
	Category  string    `json:"category,omitempty"`
	Created   time.Time `json:"created"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

type inventoryResponse struct {
	UserID  int64      `json:"user_id"`
	Items   []tileView `json:"items"`
	HasMore bool       `json:"has_more"`
}

func viewsOf(userID int64, entries []catalog.InventoryEntry) []tileView {
	views := make([]tileView, 0, len(entries))
	for _, e := range entries {
		v := tileView{
			AssetID:  e.AssetID,
			Title:    e.Data.Title,
			Kind:     e.Data.Kind,
			Category: e.Data.Category,
			Created:  e.Data.Created,
		}
		if e.Thumbnail != nil {
			v.Thumbnail = fmt.Sprintf("/users/%d/inventory/assets/%s/thumbnail", userID, e.AssetID)
		}
		views = append(views, v)
	}
	return views
}

func (s *server) handleInventory(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	if err := p.Initialize(r.Context(), s.initialQuery()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, inventoryResponse{
		UserID:  userID,
		Items:   viewsOf(userID, p.Entries()),
		HasMore: p.HasMoreData(),
	})
}

func (s *server) handleMore(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	if status := p.Status(); status != provider.StatusReady {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("inventory is %s - load it first", status))
		return
	}
	q := r.URL.Query()
	entries, err := p.LoadMore(r.Context(), q.Get("category"), q.Get("subcategory"))
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("LoadMore failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, inventoryResponse{
		UserID:  userID,
		Items:   viewsOf(userID, entries),
		HasMore: p.HasMoreData(),
	})
}

// cacheInvalidator is implemented by fetchers with a response cache.
type cacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64) (int, error)
}

// handleReload reloads the provider. With hard=true the cached catalog
// responses of the user are dropped first.
func (s *server) handleReload(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	if hard, _ := strconv.ParseBool(r.URL.Query().Get("hard")); hard {
		if inv, ok := s.fetcher.(cacheInvalidator); ok {
			n, err := inv.InvalidateUser(r.Context(), userID)
			if err != nil {
				s.writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			s.logger.Info().Int64("user_id", userID).Int("removed", n).Msg("Dropped cached responses")
		}
	}

	if err := p.Reload(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, inventoryResponse{
		UserID:  userID,
		Items:   viewsOf(userID, p.Entries()),
		HasMore: p.HasMoreData(),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	s.writeJSON(w, http.StatusOK, p.Snapshot())
}

func (s *server) handleAsset(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	entry, ok := s.lookup(w, r, p)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, viewsOf(userID, []catalog.InventoryEntry{entry})[0])
}

func (s *server) handleThumbnail(w http.ResponseWriter, r *http.Request, userID int64, p *catalog.InventoryProvider) {
	entry, ok := s.lookup(w, r, p)
	if !ok {
		return
	}
	if entry.Thumbnail == nil || entry.Thumbnail.Released() {
		s.writeError(w, http.StatusNotFound, "no thumbnail")
		return
	}
	contentType := entry.Thumbnail.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(entry.Thumbnail.Size()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(entry.Thumbnail.Data); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Str("asset_id", entry.AssetID).Msg("Failed to write thumbnail")
	}
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request, p *catalog.InventoryProvider) (catalog.InventoryEntry, bool) {
	entry, err := p.GetDataForAssetID(r.Context(), r.PathValue("assetID"))
	switch {
	case errors.Is(err, provider.ErrAssetNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
		return entry, false
	case err != nil:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return entry, false
	}
	return entry, true
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Int("status", status).Msg("Failed to write response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
