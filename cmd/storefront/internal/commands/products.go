package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/wolfeidau/storefront/internal/catalog"
	"github.com/wolfeidau/storefront/internal/state"
)

type ProductsCmd struct {
	Page  int  `help:"Page number" default:"1"`
	Limit int  `help:"Number of products per page" default:"10"`
	JSON  bool `help:"Print the page as JSON"`
}

func (p *ProductsCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.setup(ctx, state.LogNotifier{})
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.controller.RequireSession(); err != nil {
		return fmt.Errorf("sign in to browse products: %w", err)
	}

	result, err := a.fetcher.FetchPage(ctx, p.Page, p.Limit)
	if err != nil {
		return err
	}

	out := globals.out()
	if p.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printProducts(out, result)
	return nil
}

func printProducts(out io.Writer, result *catalog.PageResult[catalog.Product]) {
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No products found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tPRICE\tRATING")
	for _, product := range result.Items {
		fmt.Fprintf(w, "%d\t%s\t%s\t$%.2f\t%.1f (%d)\n",
			product.ID, truncate(product.Title, 40), product.Category, product.Price, product.Rating.Score, product.Rating.VoteCount)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\nPage %d of %d (%d items)\n", result.CurrentPage, result.TotalPages, result.TotalItems)
	if result.HasNext() {
		fmt.Fprintf(out, "Next: storefront products --page %d --limit %d\n", result.CurrentPage+1, result.ItemsPerPage)
	}
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
