package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/catalog/catalogtest"
	"github.com/e6grab/e6grab/pkg/index"
)

const root = "/dl"

func entryIDs(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Item.ID)
	}
	return out
}

func TestBuild_CompleteGroupIssuesNoMemberCalls(t *testing.T) {
	fake := catalogtest.New()
	fake.Groups[10] = catalog.Group{ID: 10, Name: "Story", ExpectedCount: 2}
	fake.Members[10] = []catalog.Item{catalogtest.Post(1, 0), catalogtest.Post(2, 0)}

	idx := index.New()
	idx.Add(index.Groups, "10", 1)
	idx.Add(index.Groups, "10", 2)

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Groups: []int64{10}}, idx)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, 2, stats.OnDisk)
	require.Equal(t, 1, fake.Calls("FetchGroup"))
	require.Equal(t, 0, fake.Calls("FetchGroupMembers"))
}

func TestBuild_PartialGroupQueuesMissingMembers(t *testing.T) {
	fake := catalogtest.New()
	fake.Groups[10] = catalog.Group{ID: 10, Name: "Story", ExpectedCount: 3}
	fake.Members[10] = []catalog.Item{catalogtest.Post(1, 0), catalogtest.Post(2, 0), catalogtest.Post(3, 0)}

	idx := index.New()
	idx.Add(index.Groups, "10", 1)

	entries, _, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Groups: []int64{10}}, idx)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, entryIDs(entries))
	for _, e := range entries {
		require.Equal(t, filepath.Join(root, "Groups", "10 - Story"), e.Folder)
	}
}

func TestBuild_GroupIdentityMismatchSkipsOnlyThatGroup(t *testing.T) {
	fake := catalogtest.New()
	fake.Groups[10] = catalog.Group{ID: 99, Name: "Wrong", ExpectedCount: 1}
	fake.Groups[20] = catalog.Group{ID: 20, Name: "Right", ExpectedCount: 1}
	fake.Members[10] = []catalog.Item{catalogtest.Post(1, 0)}
	fake.Members[20] = []catalog.Item{catalogtest.Post(2, 0)}

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Groups: []int64{10, 30, 20}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, entryIDs(entries))
	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 1, fake.Calls("FetchGroupMembers"))
}

func TestBuild_SingleItemWithoutExpansion(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(5, 4, 6), catalogtest.Post(4, 0, 5), catalogtest.Post(6, 5))

	entries, _, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Items: []int64{5}}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(5), entries[0].Item.ID)
	require.Equal(t, filepath.Join(root, "Items"), entries[0].Folder)
	require.Equal(t, 1, fake.Calls("FetchItem"))
}

func TestBuild_SingleItemWithMissingParent(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(7, 6, 8), catalogtest.Post(8, 7))

	entries, _, err := NewBuilder(fake, Options{Root: root, Expand: true}, nil).
		Build(context.Background(), Request{Items: []int64{7}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8}, entryIDs(entries))
	for _, e := range entries {
		require.Equal(t, filepath.Join(root, "Items", "7"), e.Folder)
	}
}

func TestBuild_SingleItemFamilyUsesRootFolder(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(1, 0, 2, 3), catalogtest.Post(2, 1), catalogtest.Post(3, 1))

	idx := index.New()
	idx.Add(index.Items, "1", 3)

	entries, _, err := NewBuilder(fake, Options{Root: root, Expand: true}, nil).
		Build(context.Background(), Request{Items: []int64{2}}, idx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, entryIDs(entries))
	require.Equal(t, filepath.Join(root, "Items", "1"), entries[0].Folder)
}

func TestBuild_KnownItemIsNotFetched(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(5, 0))

	idx := index.New()
	idx.Add(index.Groups, "10", 5)

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Items: []int64{5}}, idx)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, 1, stats.OnDisk)
	require.Equal(t, 0, fake.Calls("FetchItem"))
}

func TestBuild_ForceRecheckIgnoresIndex(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(5, 0))
	fake.Groups[10] = catalog.Group{ID: 10, Name: "Story", ExpectedCount: 1}
	fake.Members[10] = []catalog.Item{catalogtest.Post(1, 0)}

	idx := index.New()
	idx.Add(index.Items, "", 5)
	idx.Add(index.Groups, "10", 1)

	entries, stats, err := NewBuilder(fake, Options{Root: root, ForceRecheck: true}, nil).
		Build(context.Background(), Request{Groups: []int64{10}, Items: []int64{5}}, idx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 5}, entryIDs(entries))
	require.Zero(t, stats.OnDisk)
	require.Equal(t, 1, fake.Calls("FetchGroupMembers"))
}

func TestBuild_MissingItemIsSkipped(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(2, 0))

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Items: []int64{1, 2}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, entryIDs(entries))
	require.Zero(t, stats.Failed)
}

func TestBuild_FirstCollectionWins(t *testing.T) {
	fake := catalogtest.New()
	one := catalogtest.Post(1, 0)
	fake.Add(one)
	fake.Groups[10] = catalog.Group{ID: 10, Name: "Story", ExpectedCount: 1}
	fake.Members[10] = []catalog.Item{one}
	fake.Queries["solo"] = []catalog.Item{one}

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{
			Groups:   []int64{10},
			Items:    []int64{1, 1},
			Searches: []Search{{Query: "solo"}},
		}, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Join(root, "Groups", "10 - Story"), entries[0].Folder)
	require.Equal(t, 3, stats.Duplicates)
}

func TestBuild_SearchBlacklistFiltersExpandedItemsOnly(t *testing.T) {
	fake := catalogtest.New()
	bad := catalogtest.Post(11, 1)
	bad.Tags["general"] = append(bad.Tags["general"], "gore")
	fake.Add(catalogtest.Post(1, 0, 10, 11), catalogtest.Post(10, 1), bad, catalogtest.Post(2, 0), catalogtest.Post(3, 0))
	fake.Queries["fox -gore"] = []catalog.Item{fake.Items[1], fake.Items[2], fake.Items[3]}

	entries, stats, err := NewBuilder(fake, Options{
		Root:      root,
		Expand:    true,
		Blacklist: catalog.NewBlacklist([]string{"gore"}),
	}, nil).Build(context.Background(), Request{Searches: []Search{{Query: "fox"}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 10, 2, 3}, entryIDs(entries))
	require.Equal(t, 1, stats.Blacklisted)

	family := filepath.Join(root, "Searches", "fox", "1")
	require.Equal(t, family, entries[0].Folder)
	require.Equal(t, family, entries[1].Folder)
	require.Equal(t, filepath.Join(root, "Searches", "fox"), entries[2].Folder)
}

func TestBuild_SearchLimitDefaultsAndCaps(t *testing.T) {
	fake := catalogtest.New()
	var results []catalog.Item
	for id := int64(1); id <= 10; id++ {
		results = append(results, catalogtest.Post(id, 0))
	}
	fake.Queries["fox"] = results

	entries, _, err := NewBuilder(fake, Options{Root: root, DefaultSearchLimit: 4}, nil).
		Build(context.Background(), Request{Searches: []Search{{Query: "fox"}, {Query: "fox", Limit: 6}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, entryIDs(entries))
}

func TestBuild_FavoritesCheckUserCollection(t *testing.T) {
	fake := catalogtest.New()
	fake.Favorites["alice"] = []catalog.Item{catalogtest.Post(1, 0), catalogtest.Post(2, 0)}

	idx := index.New()
	idx.Add(index.Favorites, "alice", 2)
	idx.Add(index.Favorites, "bob", 1)

	entries, _, err := NewBuilder(fake, Options{Root: root, Expand: true}, nil).
		Build(context.Background(), Request{Favorites: []string{"alice"}}, idx)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, entryIDs(entries))
	require.Equal(t, filepath.Join(root, "Favorites", "alice"), entries[0].Folder)
}

func TestBuild_FailedQueryDoesNotStopOthers(t *testing.T) {
	fake := catalogtest.New()
	fake.QueryErrors["broken"] = catalog.ErrIdentityMismatch
	fake.Queries["fox"] = []catalog.Item{catalogtest.Post(1, 0)}

	entries, stats, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(context.Background(), Request{Searches: []Search{{Query: "broken"}, {Query: "fox"}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, entryIDs(entries))
	require.Equal(t, 1, stats.Failed)
}

func TestBuild_CanceledContext(t *testing.T) {
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries, _, err := NewBuilder(fake, Options{Root: root}, nil).
		Build(ctx, Request{Items: []int64{1}}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, entries)
	require.Equal(t, 0, fake.Calls("FetchItem"))
}

func TestBuild_NegativeSearchLimits(t *testing.T) {
	fake := catalogtest.New()
	fake.Queries["fox"] = []catalog.Item{catalogtest.Post(1, 0), catalogtest.Post(2, 0), catalogtest.Post(3, 0)}
	fake.Queries["wolf"] = []catalog.Item{catalogtest.Post(4, 0)}

	entries, stats, err := NewBuilder(fake, Options{Root: root, DefaultSearchLimit: -2}, nil).
		Build(context.Background(), Request{Searches: []Search{{Query: "fox"}, {Query: "wolf", Limit: -3}}}, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, entryIDs(entries))
	require.Equal(t, 1, stats.Failed)
}
