package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Unbounded is the query limit meaning "every result the service has".
const Unbounded = -1

// ErrInvalidLimit is returned for query limits below Unbounded.
var ErrInvalidLimit = errors.New("invalid query limit")

// maxPages stops a walk against a service that never returns a short page.
const maxPages = 10000

// AllGroupMembers pages through a group until a short page is returned.
func AllGroupMembers(ctx context.Context, c Client, id int64) ([]Item, error) {
	return collectPages(c.PageSize(), func(page int) ([]Item, error) {
		return c.FetchGroupMembers(ctx, id, page)
	})
}

// AllFavorites pages through a user's favorites until a short page is returned.
func AllFavorites(ctx context.Context, c Client, user string) ([]Item, error) {
	return collectPages(c.PageSize(), func(page int) ([]Item, error) {
		return c.FetchFavorites(ctx, user, page)
	})
}

// AllQueryResults runs expr and collects up to limit results, or everything
// when limit is Unbounded.
func AllQueryResults(ctx context.Context, c Client, expr string, limit int) ([]Item, error) {
	pageSize := c.PageSize()
	if limit < Unbounded {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit == 0 {
		return nil, nil
	}

	var out []Item
	for page := 1; page <= maxPages; page++ {
		// Later pages keep the full size so page offsets stay aligned.
		want := pageSize
		if page == 1 && limit != Unbounded && limit < pageSize {
			want = limit
		}

		items, err := c.RunQuery(ctx, expr, want, page)
		if err != nil {
			return out, err
		}
		out = append(out, items...)

		if limit != Unbounded && len(out) >= limit {
			return out[:limit], nil
		}
		if len(items) < want {
			break
		}
	}
	return out, nil
}

func collectPages(pageSize int, fetch func(page int) ([]Item, error)) ([]Item, error) {
	var out []Item
	for page := 1; page <= maxPages; page++ {
		items, err := fetch(page)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
		if len(items) < pageSize {
			break
		}
	}
	return out, nil
}
