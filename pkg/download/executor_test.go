package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/catalog/catalogtest"
	"github.com/e6grab/e6grab/pkg/queue"
)

func entry(folder string, item catalog.Item) queue.Entry {
	return queue.Entry{Item: item, Folder: folder}
}

func TestFinalize(t *testing.T) {
	noExt := catalogtest.Post(2, 0)
	noExt.File.Ext = ""
	noExt.File.URL = "https://static.test/data/abc.webm"
	noFile := catalogtest.Post(3, 0)
	noFile.File = catalog.File{}

	got := Finalize([]queue.Entry{
		entry("a", catalogtest.Post(1, 0)),
		entry("b", noExt),
		entry("c", noFile),
	})
	require.Equal(t, filepath.Join("a", "1.png"), got[0].Path)
	require.Equal(t, filepath.Join("b", "2.webm"), got[1].Path)
	require.Equal(t, filepath.Join("c", "3"), got[2].Path)
}

func TestCollapse_FirstWinsAndIdempotent(t *testing.T) {
	one := catalogtest.Post(1, 0)
	entries := Finalize([]queue.Entry{
		entry("a", one),
		entry("b", one),
		entry("a", one),
		entry("a", catalogtest.Post(2, 0)),
	})

	once := Collapse(entries)
	require.Len(t, once, 3)
	require.Equal(t, filepath.Join("a", "1.png"), once[0].Path)
	require.Equal(t, filepath.Join("b", "1.png"), once[1].Path)
	require.Equal(t, once, Collapse(once))
}

func TestExecute_DownloadsAndSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(1, 0), catalogtest.Post(2, 0))

	folder := filepath.Join(dir, "Items")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "2.png"), []byte("old"), 0o644))

	var mu sync.Mutex
	var results []Result
	ex := &Executor{Client: fake, Workers: 2, OnResult: func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}}

	summary := ex.Execute(context.Background(), []queue.Entry{
		entry(folder, fake.Items[1]),
		entry(folder, fake.Items[2]),
		entry(folder, fake.Items[1]),
	})
	require.Equal(t, Summary{Queued: 2, Downloaded: 1, Skipped: 1, Bytes: 6, Requests: 1}, summary)
	require.Len(t, results, 2)
	require.Equal(t, 1, fake.Calls("FetchContent"))

	data, err := os.ReadFile(filepath.Join(folder, "1.png"))
	require.NoError(t, err)
	require.Equal(t, "post 1", string(data))

	data, err = os.ReadFile(filepath.Join(folder, "2.png"))
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

func TestExecute_FailuresAreIsolated(t *testing.T) {
	dir := t.TempDir()
	fake := catalogtest.New()
	noFile := catalogtest.Post(3, 0)
	noFile.File.URL = ""
	fake.Add(catalogtest.Post(1, 0), catalogtest.Post(2, 0), noFile, catalogtest.Post(4, 0))
	fake.ContentErrors[2] = errors.New("connection reset")

	var failed []error
	var mu sync.Mutex
	ex := &Executor{Client: fake, Workers: 2, OnResult: func(r Result) {
		if r.Status == Failed {
			mu.Lock()
			failed = append(failed, r.Err)
			mu.Unlock()
		}
	}}

	folder := filepath.Join(dir, "Searches", "fox")
	summary := ex.Execute(context.Background(), []queue.Entry{
		entry(folder, fake.Items[1]),
		entry(folder, fake.Items[2]),
		entry(folder, fake.Items[3]),
		entry(folder, fake.Items[4]),
	})
	require.Equal(t, 2, summary.Downloaded)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, failed, 2)

	files, err := os.ReadDir(folder)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	require.ElementsMatch(t, []string{"1.png", "4.png"}, names)
}

func TestExecute_RespectsWorkerLimit(t *testing.T) {
	dir := t.TempDir()
	fake := catalogtest.New()
	fake.ContentDelay = 10 * time.Millisecond

	var entries []queue.Entry
	for id := int64(1); id <= 12; id++ {
		p := catalogtest.Post(id, 0)
		fake.Add(p)
		entries = append(entries, entry(filepath.Join(dir, "Items"), p))
	}

	summary := (&Executor{Client: fake, Workers: 3}).Execute(context.Background(), entries)
	require.Equal(t, 12, summary.Downloaded)
	require.LessOrEqual(t, fake.PeakConcurrency(), 3)
	require.GreaterOrEqual(t, fake.PeakConcurrency(), 1)
}

func TestExecute_DefaultWorkers(t *testing.T) {
	dir := t.TempDir()
	fake := catalogtest.New()
	fake.ContentDelay = 5 * time.Millisecond

	var entries []queue.Entry
	for id := int64(1); id <= 10; id++ {
		p := catalogtest.Post(id, 0)
		fake.Add(p)
		entries = append(entries, entry(dir, p))
	}

	summary := (&Executor{Client: fake}).Execute(context.Background(), entries)
	require.Equal(t, 10, summary.Downloaded)
	require.LessOrEqual(t, fake.PeakConcurrency(), DefaultWorkers)
}

func TestExecute_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	fake := catalogtest.New()
	fake.Add(catalogtest.Post(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := (&Executor{Client: fake}).Execute(ctx, []queue.Entry{entry(dir, fake.Items[1])})
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 0, fake.Calls("FetchContent"))
}

func TestExecute_Empty(t *testing.T) {
	summary := (&Executor{Client: catalogtest.New()}).Execute(context.Background(), nil)
	require.Equal(t, Summary{}, summary)
}
