// Package queue turns requested collections into a flat, deduplicated list
// of items to download.
package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/e6grab/e6grab/internal/utils"
	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/index"
	"github.com/e6grab/e6grab/pkg/relations"
)

// DefaultSearchLimit applies to searches that do not set a limit.
const DefaultSearchLimit = 75

// Options controls a Builder.
type Options struct {
	// Root is the destination directory.
	Root string
	// Expand queues the whole parent/child family of requested items.
	Expand bool
	// ForceRecheck ignores the existing-item index.
	ForceRecheck bool
	// Blacklist drops items reached through expansion.
	Blacklist          catalog.Blacklist
	DefaultSearchLimit int
}

// Builder produces the download queue for a Request. Metadata calls are
// issued one at a time, in request order.
type Builder struct {
	client   catalog.Client
	resolver *relations.Resolver
	opts     Options
	log      catalog.Logger
}

// NewBuilder returns a Builder using c for metadata and family resolution.
func NewBuilder(c catalog.Client, opts Options, log catalog.Logger) *Builder {
	log = catalog.OrNop(log)
	switch {
	case opts.DefaultSearchLimit == 0:
		opts.DefaultSearchLimit = DefaultSearchLimit
	case opts.DefaultSearchLimit < catalog.Unbounded:
		log.Warnf("Invalid search limit %d, using %d", opts.DefaultSearchLimit, DefaultSearchLimit)
		opts.DefaultSearchLimit = DefaultSearchLimit
	}
	return &Builder{
		client:   c,
		resolver: relations.New(c, log),
		opts:     opts,
		log:      log,
	}
}

// Stats counts why candidates were or were not queued.
type Stats struct {
	Queued      int
	OnDisk      int
	Duplicates  int
	Blacklisted int
	Failed      int
}

type candidate struct {
	item   catalog.Item
	folder string
	kind   index.Kind
	key    string // empty: check the flat id set
	// expanded is set for items reached through the family of a requested
	// item. Only those are subject to the blacklist.
	expanded bool
}

// run holds the state of a single Build call.
type run struct {
	*Builder
	idx     *index.Index
	entries []Entry
	queued  map[int64]struct{}
	stats   Stats
}

// Build processes groups, single items, searches and favorites, in that
// order. Failures are logged and skip only the affected collection or item;
// the returned error is non-nil only when ctx ends the build early, in which
// case the entries queued so far are returned with it.
func (b *Builder) Build(ctx context.Context, req Request, idx *index.Index) ([]Entry, Stats, error) {
	if idx == nil {
		idx = index.New()
	}
	r := &run{Builder: b, idx: idx, queued: make(map[int64]struct{})}

	if len(req.Groups) > 0 {
		b.log.Infof("Queueing %d pool%s", len(req.Groups), utils.Plural(len(req.Groups)))
	}
	for _, id := range req.Groups {
		if err := ctx.Err(); err != nil {
			return r.entries, r.stats, err
		}
		if err := r.queueGroup(ctx, id); err != nil {
			r.stats.Failed++
			b.log.Warnf("Skipping pool %d: %v", id, err)
		}
	}

	if len(req.Items) > 0 {
		b.log.Infof("Queueing %d post%s", len(req.Items), utils.Plural(len(req.Items)))
	}
	for _, id := range req.Items {
		if err := ctx.Err(); err != nil {
			return r.entries, r.stats, err
		}
		if err := r.queueItem(ctx, id); err != nil {
			r.stats.Failed++
			b.log.Warnf("Skipping post %d: %v", id, err)
		}
	}

	if len(req.Searches) > 0 {
		b.log.Infof("Queueing %d search%s", len(req.Searches), pluralES(len(req.Searches)))
	}
	for _, s := range req.Searches {
		if err := ctx.Err(); err != nil {
			return r.entries, r.stats, err
		}
		if err := r.queueSearch(ctx, s); err != nil {
			r.stats.Failed++
			b.log.Warnf("Skipping search %q: %v", s.Query, err)
		}
	}

	if len(req.Favorites) > 0 {
		b.log.Infof("Queueing favorites of %d user%s", len(req.Favorites), utils.Plural(len(req.Favorites)))
	}
	for _, user := range req.Favorites {
		if err := ctx.Err(); err != nil {
			return r.entries, r.stats, err
		}
		if err := r.queueFavorites(ctx, user); err != nil {
			r.stats.Failed++
			b.log.Warnf("Skipping favorites of %s: %v", user, err)
		}
	}

	b.log.Infof("Queued %d post%s (%d already on disk, %d duplicate, %d blacklisted)",
		r.stats.Queued, utils.Plural(r.stats.Queued), r.stats.OnDisk, r.stats.Duplicates, r.stats.Blacklisted)
	return r.entries, r.stats, ctx.Err()
}

func (r *run) queueGroup(ctx context.Context, id int64) error {
	group, err := r.client.FetchGroup(ctx, id)
	if err != nil {
		return err
	}
	if group.ID != id {
		return fmt.Errorf("pool %d: %w", id, catalog.ErrIdentityMismatch)
	}

	key := index.GroupKey(id)
	onDisk := r.idx.Count(index.Groups, key)
	if onDisk == group.ExpectedCount && !r.opts.ForceRecheck {
		r.log.Debugf("Pool %d (%s) is complete on disk, skipping", id, group.Name)
		r.stats.OnDisk += onDisk
		return nil
	}
	if onDisk > group.ExpectedCount {
		r.log.Warnf("Pool %s (%d) has more posts on disk (%d) than in the pool (%d)", group.Name, id, onDisk, group.ExpectedCount)
	}

	members, err := catalog.AllGroupMembers(ctx, r.client, id)
	if err != nil {
		return err
	}
	r.log.Debugf("Pool %d (%s): %d on disk, %d in pool", id, group.Name, onDisk, len(members))

	folder := index.GroupFolder(r.opts.Root, id, group.Name)
	for _, m := range members {
		r.offer(candidate{item: m, folder: folder, kind: index.Groups, key: key})
	}
	return nil
}

func (r *run) queueItem(ctx context.Context, id int64) error {
	if r.idx.Known(id) && !r.opts.ForceRecheck {
		r.stats.OnDisk++
		return nil
	}

	item, found, err := r.client.FetchItem(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		r.log.Warnf("Post %d not found, skipping", id)
		return nil
	}

	if !r.opts.Expand {
		r.offer(candidate{item: item, folder: index.KindFolder(r.opts.Root, index.Items), kind: index.Items})
		return nil
	}

	root, err := r.resolver.FindRoot(ctx, item)
	if err != nil {
		return err
	}
	family, err := r.resolver.CollectFamily(ctx, root)
	if err != nil {
		return err
	}

	key := strconv.FormatInt(root.ID, 10)
	folder := index.KindFolder(r.opts.Root, index.Items, key)
	for _, m := range family {
		r.offer(candidate{item: m, folder: folder, kind: index.Items, key: key, expanded: m.ID != item.ID})
	}
	return nil
}

func (r *run) queueSearch(ctx context.Context, s Search) error {
	limit := s.Limit
	if limit == 0 {
		limit = r.opts.DefaultSearchLimit
	}

	expr := strings.Join(append(strings.Fields(s.Query), r.opts.Blacklist.Negate()...), " ")
	results, err := catalog.AllQueryResults(ctx, r.client, expr, limit)
	if err != nil {
		return err
	}

	key := index.FolderName(s.Query)
	r.queueResults(ctx, results, index.Searches, key, index.KindFolder(r.opts.Root, index.Searches, key))
	return nil
}

func (r *run) queueFavorites(ctx context.Context, user string) error {
	results, err := catalog.AllFavorites(ctx, r.client, user)
	if err != nil {
		return err
	}

	key := index.FolderName(user)
	r.queueResults(ctx, results, index.Favorites, key, index.KindFolder(r.opts.Root, index.Favorites, key))
	return nil
}

// queueResults handles search and favorite results. With expansion, a
// result whose root has active children is queued with its whole family in
// a per-root subfolder; otherwise the result goes straight into folder.
func (r *run) queueResults(ctx context.Context, results []catalog.Item, kind index.Kind, key, folder string) {
	for _, res := range results {
		if ctx.Err() != nil {
			return
		}
		if r.idx.Has(kind, key, res.ID) && !r.opts.ForceRecheck {
			r.stats.OnDisk++
			continue
		}
		if !r.opts.Expand {
			r.offer(candidate{item: res, folder: folder, kind: kind, key: key})
			continue
		}
		if err := r.queueFamily(ctx, res, kind, key, folder); err != nil {
			r.stats.Failed++
			r.log.Warnf("Skipping post %d in %s/%s: %v", res.ID, kind, key, err)
		}
	}
}

func (r *run) queueFamily(ctx context.Context, res catalog.Item, kind index.Kind, key, folder string) error {
	root, err := r.resolver.FindRoot(ctx, res)
	if err != nil {
		return err
	}
	if !root.HasActiveChildren {
		r.offer(candidate{item: res, folder: folder, kind: kind, key: key})
		return nil
	}

	family, err := r.resolver.CollectFamily(ctx, root)
	if err != nil {
		return err
	}
	nested := filepath.Join(folder, strconv.FormatInt(root.ID, 10))
	for _, m := range family {
		r.offer(candidate{item: m, folder: nested, kind: kind, key: key, expanded: m.ID != res.ID})
	}
	return nil
}

// offer applies, in order, the on-disk check, the in-run duplicate check and
// the blacklist, then appends the candidate.
func (r *run) offer(c candidate) bool {
	if !r.opts.ForceRecheck {
		onDisk := r.idx.Known(c.item.ID)
		if c.key != "" {
			onDisk = r.idx.Has(c.kind, c.key, c.item.ID)
		}
		if onDisk {
			r.stats.OnDisk++
			return false
		}
	}
	if _, dup := r.queued[c.item.ID]; dup {
		r.stats.Duplicates++
		return false
	}
	if c.expanded && r.opts.Blacklist.Matches(c.item) {
		r.log.Debugf("Post %d is blacklisted, skipping", c.item.ID)
		r.stats.Blacklisted++
		return false
	}

	r.queued[c.item.ID] = struct{}{}
	r.entries = append(r.entries, Entry{Item: c.item, Folder: c.folder})
	r.stats.Queued++
	return true
}

func pluralES(n int) string {
	if n == 1 {
		return ""
	}
	return "es"
}
