package request

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e6grab/e6grab/pkg/queue"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "inputFiles.json", `{
		"pools": [12345, "678"],
		"posts": [5],
		"items": [6],
		"searches": [{"query": "fox rating:s", "limit": 20}, "wolf", {"query": "all", "limit": -1}],
		"favorites": ["someone", " "]
	}`)

	req, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, queue.Request{
		Groups: []int64{12345, 678},
		Items:  []int64{5, 6},
		Searches: []queue.Search{
			{Query: "fox rating:s", Limit: 20},
			{Query: "wolf"},
			{Query: "all", Limit: -1},
		},
		Favorites: []string{"someone"},
	}, req)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "request.yaml", `
groups:
  - 10
searches:
  - query: fox
    limit: 3
favorites:
  - alice
`)

	req, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []int64{10}, req.Groups)
	require.Empty(t, req.Items)
	require.Equal(t, []queue.Search{{Query: "fox", Limit: 3}}, req.Searches)
	require.Equal(t, []string{"alice"}, req.Favorites)
}

func TestLoad_Lines(t *testing.T) {
	path := writeFile(t, "request.txt", "# Pools\n12345\n\n# Posts\n5\n6\n# Searches\nfox rating:s\n# Favorites\nalice\n")

	req, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, queue.Request{
		Groups:    []int64{12345},
		Items:     []int64{5, 6},
		Searches:  []queue.Search{{Query: "fox rating:s"}},
		Favorites: []string{"alice"},
	}, req)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{"posts": ["abc"]}`))
	require.ErrorContains(t, err, "invalid id")

	_, err = Load(writeFile(t, "bad.json", `{"searches": [{"limit": 3}]}`))
	require.ErrorContains(t, err, "missing query")

	_, err = Load(writeFile(t, "bad.json", `{"searches": [{"query": "x", "limit": -2}]}`))
	require.ErrorContains(t, err, "invalid limit")

	_, err = Load(writeFile(t, "bad.txt", "# Pools\nnope\n"))
	require.ErrorContains(t, err, "bad.txt:2")
}
