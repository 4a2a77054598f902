package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/catalog/catalogtest"
)

func posts(from, to int64) []catalog.Item {
	var out []catalog.Item
	for id := from; id <= to; id++ {
		out = append(out, catalogtest.Post(id, 0))
	}
	return out
}

func TestAllGroupMembers_WalksUntilShortPage(t *testing.T) {
	fake := catalogtest.New()
	fake.Size = 3
	fake.Members[10] = posts(1, 7)

	got, err := catalog.AllGroupMembers(context.Background(), fake, 10)
	require.NoError(t, err)
	require.Len(t, got, 7)
	require.Equal(t, 3, fake.Calls("FetchGroupMembers"))
}

func TestAllGroupMembers_ExactMultipleNeedsOneMorePage(t *testing.T) {
	fake := catalogtest.New()
	fake.Size = 3
	fake.Members[10] = posts(1, 6)

	got, err := catalog.AllGroupMembers(context.Background(), fake, 10)
	require.NoError(t, err)
	require.Len(t, got, 6)
	require.Equal(t, 3, fake.Calls("FetchGroupMembers"))
}

func TestAllQueryResults_Limit(t *testing.T) {
	fake := catalogtest.New()
	fake.Size = 4
	fake.Queries["cat"] = posts(1, 20)

	got, err := catalog.AllQueryResults(context.Background(), fake, "cat", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, fake.Calls("RunQuery"))

	got, err = catalog.AllQueryResults(context.Background(), fake, "cat", 9)
	require.NoError(t, err)
	require.Len(t, got, 9)
	require.Equal(t, int64(9), got[8].ID)
}

func TestAllQueryResults_NegativeLimit(t *testing.T) {
	fake := catalogtest.New()
	fake.Queries["cat"] = posts(1, 3)

	got, err := catalog.AllQueryResults(context.Background(), fake, "cat", -2)
	require.ErrorIs(t, err, catalog.ErrInvalidLimit)
	require.Empty(t, got)
	require.Equal(t, 0, fake.Calls("RunQuery"))
}

func TestAllQueryResults_Unbounded(t *testing.T) {
	fake := catalogtest.New()
	fake.Size = 4
	fake.Queries["cat"] = posts(1, 10)

	got, err := catalog.AllQueryResults(context.Background(), fake, "cat", catalog.Unbounded)
	require.NoError(t, err)
	require.Len(t, got, 10)
	require.Equal(t, 3, fake.Calls("RunQuery"))
}

func TestAllFavorites(t *testing.T) {
	fake := catalogtest.New()
	fake.Favorites["alice"] = posts(1, 2)

	got, err := catalog.AllFavorites(context.Background(), fake, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestBlacklist(t *testing.T) {
	bl := catalog.NewBlacklist([]string{" gore ", "", "scat"})
	require.Len(t, bl, 2)
	require.Equal(t, []string{"-gore", "-scat"}, bl.Negate())

	it := catalogtest.Post(1, 0)
	require.False(t, bl.Matches(it))
	it.Tags["meta"] = []string{"gore"}
	require.True(t, bl.Matches(it))
	require.True(t, it.HasTag("gore"))
}
