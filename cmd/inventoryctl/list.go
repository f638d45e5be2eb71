package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/Sternrassler/inventory-engine/pkg/catalog"
	"github.com/Sternrassler/inventory-engine/pkg/logging"
	"github.com/Sternrassler/inventory-engine/pkg/provider"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd(cfg *Config) *cobra.Command {
	var (
		pageSize    int
		category    string
		subcategory string
		filters     []string
		sortBy      string
		all         bool
		thumbnails  bool
	)

	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's inventory",
		Long: `List prints the first UI page of a user's inventory.

With --all it keeps loading pages until the inventory is exhausted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			ctx := cmd.Context()
			c, cleanup, err := newCatalogClient(ctx, *cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			pcfg := catalog.DefaultProviderConfig(userID)
			pcfg.PageSize = cfg.PageSize
			if cmd.Flags().Changed("page-size") {
				pcfg.PageSize = pageSize
			}
			pcfg.ServerPageSize = cfg.ServerPageSize
			pcfg.Filters = filters
			pcfg.Category = category
			pcfg.Subcategory = subcategory
			pcfg.SortBy = sortBy
			if thumbnails {
				pcfg.Thumbnails = c.Thumbnails()
			}
			logger := logging.NewLogger("inventoryctl")
			pcfg.Logger = &logger

			p, err := catalog.NewInventoryProvider(c, pcfg)
			if err != nil {
				return err
			}
			defer p.Dispose()

			if err := p.Initialize(ctx, provider.Query{
				Category:    category,
				Subcategory: subcategory,
				PageSize:    pcfg.PageSize,
			}); err != nil {
				return err
			}

			entries := p.Entries()
			for all && p.HasMoreData() {
				more, err := p.LoadMore(ctx, category, subcategory)
				if err != nil {
					return fmt.Errorf("load more: %w", err)
				}
				entries = append(entries, more...)
			}

			return printEntries(cmd.OutOrStdout(), entries, p.HasMoreData())
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 10, "UI page size (overrides PAGE_SIZE)")
	cmd.Flags().StringVar(&category, "category", "", "Only show items of this category")
	cmd.Flags().StringVar(&subcategory, "subcategory", "", "Only show items of this subcategory")
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "Category filters sent to the catalog")
	cmd.Flags().StringVar(&sortBy, "sort", catalog.SortServer, "Sort order: name, created (default server order)")
	cmd.Flags().BoolVar(&all, "all", false, "Load every page")
	cmd.Flags().BoolVar(&thumbnails, "thumbnails", false, "Resolve thumbnails and show their size")

	return cmd
}

func printEntries(out io.Writer, entries []catalog.InventoryEntry, hasMore bool) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET ID\tTITLE\tKIND\tCATEGORY\tCREATED\tTHUMBNAIL")
	for _, e := range entries {
		created := "-"
		if !e.Data.Created.IsZero() {
			created = humanize.Time(e.Data.Created)
		}
		thumb := "-"
		if e.Thumbnail != nil {
			thumb = humanize.Bytes(uint64(e.Thumbnail.Size()))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.AssetID, e.Data.Title, orDash(e.Data.Kind), orDash(e.Data.Category), created, thumb)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	suffix := ""
	if hasMore {
		suffix = ", more available"
	}
	_, err := fmt.Fprintf(out, "\n%d items%s\n", len(entries), suffix)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
