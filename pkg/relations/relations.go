// Package relations walks the parent/child graph of catalog items.
package relations

import (
	"context"
	"fmt"

	"github.com/e6grab/e6grab/pkg/catalog"
)

// DefaultMaxDepth bounds both the parent walk and the child recursion.
// Real revision chains are a handful of links long.
const DefaultMaxDepth = 64

// Resolver finds the root of an item and the family below that root.
// Removed parents and children are pruned, never reported as errors.
type Resolver struct {
	Client   catalog.Client
	MaxDepth int
	Log      catalog.Logger
}

// New returns a Resolver with the default depth bound.
func New(c catalog.Client, log catalog.Logger) *Resolver {
	return &Resolver{Client: c, MaxDepth: DefaultMaxDepth, Log: catalog.OrNop(log)}
}

func (r *Resolver) maxDepth() int {
	if r.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return r.MaxDepth
}

func (r *Resolver) log() catalog.Logger { return catalog.OrNop(r.Log) }

// FindRoot follows parent links upward. When a parent cannot be found the
// last reachable item is the effective root. Exceeding the depth bound also
// stops the walk at the current item.
func (r *Resolver) FindRoot(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	current := item
	for depth := 0; current.HasParent(); depth++ {
		if depth >= r.maxDepth() {
			r.log().Warnf("Parent chain of post %d is deeper than %d, using post %d as root", item.ID, r.maxDepth(), current.ID)
			return current, nil
		}

		parent, found, err := r.Client.FetchItem(ctx, current.ParentID)
		if err != nil {
			return catalog.Item{}, fmt.Errorf("resolve parent %d of post %d: %w", current.ParentID, current.ID, err)
		}
		if !found {
			r.log().Debugf("Parent %d of post %d is gone, stopping at %d", current.ParentID, current.ID, current.ID)
			return current, nil
		}
		current = parent
	}
	return current, nil
}

// CollectFamily returns root followed by every reachable descendant in
// pre-order. A root without active children is its own family.
func (r *Resolver) CollectFamily(ctx context.Context, root catalog.Item) ([]catalog.Item, error) {
	seen := make(map[int64]struct{})
	var family []catalog.Item
	if err := r.collect(ctx, root, 0, seen, &family); err != nil {
		return nil, err
	}
	return family, nil
}

func (r *Resolver) collect(ctx context.Context, item catalog.Item, depth int, seen map[int64]struct{}, family *[]catalog.Item) error {
	if _, dup := seen[item.ID]; dup {
		return nil
	}
	seen[item.ID] = struct{}{}
	*family = append(*family, item)

	if !item.HasActiveChildren {
		return nil
	}
	if depth >= r.maxDepth() {
		r.log().Warnf("Children of post %d are nested deeper than %d, not descending further", item.ID, r.maxDepth())
		return nil
	}

	for _, childID := range item.Children {
		if _, dup := seen[childID]; dup {
			continue
		}
		child, found, err := r.Client.FetchItem(ctx, childID)
		if err != nil {
			return fmt.Errorf("resolve child %d of post %d: %w", childID, item.ID, err)
		}
		if !found {
			r.log().Debugf("Child %d of post %d is gone, skipping", childID, item.ID)
			continue
		}
		if err := r.collect(ctx, child, depth+1, seen, family); err != nil {
			return err
		}
	}
	return nil
}
