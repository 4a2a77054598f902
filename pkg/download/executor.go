// Package download fetches queued items into their folders using a fixed
// pool of workers.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/index"
	"github.com/e6grab/e6grab/pkg/queue"
)

// DefaultWorkers is the number of concurrent transfers.
const DefaultWorkers = 4

// ErrNoFile is reported for items the service lists without a file URL,
// typically deleted posts or posts hidden from anonymous users.
var ErrNoFile = errors.New("no file url")

// Status is the outcome of a single entry.
type Status int

const (
	Downloaded Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result is reported once per entry through Executor.OnResult.
type Result struct {
	Entry  queue.Entry
	Status Status
	Bytes  int64
	Err    error
}

// Summary totals a run. Requests is the client's request counter, so it
// includes the metadata calls made while building the queue.
type Summary struct {
	Queued     int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Requests   int
}

// Executor downloads queue entries.
type Executor struct {
	Client  catalog.Client
	Workers int            // defaults to DefaultWorkers if <= 0
	Log     catalog.Logger // optional

	// OnResult is called from worker goroutines after each entry.
	OnResult func(Result)
}

// Finalize returns a copy of entries with Path set to Folder/<id>.<ext>.
func Finalize(entries []queue.Entry) []queue.Entry {
	out := make([]queue.Entry, len(entries))
	for i, e := range entries {
		e.Path = filepath.Join(e.Folder, fileName(e.Item))
		out[i] = e
	}
	return out
}

// Collapse keeps the first entry for each Path. Applying it twice yields the
// same list.
func Collapse(entries []queue.Entry) []queue.Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]queue.Entry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.Path]; dup {
			continue
		}
		seen[e.Path] = struct{}{}
		out = append(out, e)
	}
	return out
}

func fileName(item catalog.Item) string {
	ext := strings.TrimPrefix(item.File.Ext, ".")
	if ext == "" && item.File.URL != "" {
		ext = strings.TrimPrefix(path.Ext(item.File.URL), ".")
	}
	name := strconv.FormatInt(item.ID, 10)
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// Execute finalizes and collapses entries, then downloads them. Individual
// failures are logged and counted; they never stop the other transfers.
// Entries not yet started when ctx is done are counted as failed.
func (e *Executor) Execute(ctx context.Context, entries []queue.Entry) Summary {
	log := catalog.OrNop(e.Log)
	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	entries = Collapse(Finalize(entries))
	summary := Summary{Queued: len(entries)}
	if len(entries) == 0 {
		summary.Requests = e.Client.Requests()
		return summary
	}

	entryChan := make(chan queue.Entry, len(entries))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entryChan {
				res := e.process(ctx, entry)
				switch res.Status {
				case Failed:
					log.Errorf("Post %d: %v", entry.Item.ID, res.Err)
				case Downloaded:
					log.Debugf("Saved %s (%d bytes)", entry.Path, res.Bytes)
				}

				mu.Lock()
				switch res.Status {
				case Downloaded:
					summary.Downloaded++
					summary.Bytes += res.Bytes
				case Skipped:
					summary.Skipped++
				default:
					summary.Failed++
				}
				mu.Unlock()

				if e.OnResult != nil {
					e.OnResult(res)
				}
			}
		}()
	}

	for _, entry := range entries {
		entryChan <- entry
	}
	close(entryChan)
	wg.Wait()

	summary.Requests = e.Client.Requests()
	return summary
}

func (e *Executor) process(ctx context.Context, entry queue.Entry) Result {
	res := Result{Entry: entry}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = Failed, err
		return res
	}

	if _, err := os.Stat(entry.Path); err == nil {
		res.Status = Skipped
		return res
	}
	if entry.Item.File.URL == "" {
		res.Status, res.Err = Failed, ErrNoFile
		return res
	}

	n, err := e.save(ctx, entry)
	if err != nil {
		res.Status, res.Err = Failed, err
		return res
	}
	res.Status, res.Bytes = Downloaded, n
	return res
}

// save streams the item into a partial file next to its destination and
// renames it into place once complete.
func (e *Executor) save(ctx context.Context, entry queue.Entry) (int64, error) {
	if err := os.MkdirAll(entry.Folder, 0o755); err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}

	body, err := e.Client.FetchContent(ctx, entry.Item)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	part := entry.Path + index.PartialSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("write %s: %w", entry.Path, err)
	}

	if err := os.Rename(part, entry.Path); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("rename %s: %w", part, err)
	}
	return n, nil
}
