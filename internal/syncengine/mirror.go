package syncengine

import (
	"context"
	"fmt"
	"log/slog"
)

// mirrorFetchLimit asks the server for the whole catalog in one page.
const mirrorFetchLimit = 1000

// refreshMirror replaces the local product and category tables with the
// server's current catalog. Full replace, not merge: the server is the
// source of truth for everything including stock, and the caller has
// already verified there are no unsettled local deductions to clobber.
func (e *Engine) refreshMirror(ctx context.Context) error {
	products, err := e.remote.FetchProducts(ctx, mirrorFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}
	categories, err := e.remote.FetchCategories(ctx)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}

	if err := e.store.ReplaceProducts(ctx, products); err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	if err := e.store.ReplaceCategories(ctx, categories); err != nil {
		return fmt.Errorf("replace categories: %w", err)
	}

	slog.Info("catalog mirror refreshed",
		"component", "syncengine",
		"action", "refresh_mirror",
		"products", len(products),
		"categories", len(categories),
	)
	return nil
}
