// Package catalogtest provides an in-memory catalog.Client for tests.
package catalogtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/e6grab/e6grab/pkg/catalog"
)

// Catalog is a fake catalog.Client backed by maps. Every call is counted
// so tests can assert which network operations were (not) issued.
type Catalog struct {
	Items     map[int64]catalog.Item
	Groups    map[int64]catalog.Group
	Members   map[int64][]catalog.Item
	Queries   map[string][]catalog.Item
	Favorites map[string][]catalog.Item
	Content   map[int64][]byte

	// ItemErrors and ContentErrors make the matching calls fail.
	ItemErrors    map[int64]error
	ContentErrors map[int64]error
	QueryErrors   map[string]error

	Size         int
	ContentDelay time.Duration

	mu       sync.Mutex
	calls    map[string]int
	requests int
	inFlight int
	peak     int
}

// New returns an empty fake with a page size of 320.
func New() *Catalog {
	return &Catalog{
		Items:         map[int64]catalog.Item{},
		Groups:        map[int64]catalog.Group{},
		Members:       map[int64][]catalog.Item{},
		Queries:       map[string][]catalog.Item{},
		Favorites:     map[string][]catalog.Item{},
		Content:       map[int64][]byte{},
		ItemErrors:    map[int64]error{},
		ContentErrors: map[int64]error{},
		QueryErrors:   map[string]error{},
		Size:          320,
		calls:         map[string]int{},
	}
}

// Post builds an item with a png file. Listing children marks it as having
// active children.
func Post(id, parent int64, children ...int64) catalog.Item {
	return catalog.Item{
		ID:                id,
		ParentID:          parent,
		Children:          children,
		HasActiveChildren: len(children) > 0,
		Tags:              map[string][]string{"general": {"tag_" + fmt.Sprint(id)}},
		File: catalog.File{
			URL: fmt.Sprintf("https://static.test/data/%d.png", id),
			Ext: "png",
		},
	}
}

// Add registers items so FetchItem can find them, with content "post <id>".
func (c *Catalog) Add(items ...catalog.Item) {
	for _, it := range items {
		c.Items[it.ID] = it
		c.Content[it.ID] = []byte(fmt.Sprintf("post %d", it.ID))
	}
}

// Calls returns how many times method was invoked.
func (c *Catalog) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// PeakConcurrency is the highest number of content bodies open at once.
func (c *Catalog) PeakConcurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

func (c *Catalog) count(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.requests++
	c.mu.Unlock()
}

func (c *Catalog) FetchItem(ctx context.Context, id int64) (catalog.Item, bool, error) {
	c.count("FetchItem")
	if err := c.ItemErrors[id]; err != nil {
		return catalog.Item{}, false, err
	}
	it, ok := c.Items[id]
	return it, ok, nil
}

func (c *Catalog) FetchGroup(ctx context.Context, id int64) (catalog.Group, error) {
	c.count("FetchGroup")
	g, ok := c.Groups[id]
	if !ok {
		return catalog.Group{}, fmt.Errorf("group %d: %w", id, catalog.ErrIdentityMismatch)
	}
	return g, nil
}

func (c *Catalog) FetchGroupMembers(ctx context.Context, id int64, page int) ([]catalog.Item, error) {
	c.count("FetchGroupMembers")
	return paginate(c.Members[id], c.Size, page), nil
}

func (c *Catalog) RunQuery(ctx context.Context, expr string, limit, page int) ([]catalog.Item, error) {
	c.count("RunQuery")
	if err := c.QueryErrors[expr]; err != nil {
		return nil, err
	}
	return paginate(c.Queries[expr], limit, page), nil
}

func (c *Catalog) FetchFavorites(ctx context.Context, user string, page int) ([]catalog.Item, error) {
	c.count("FetchFavorites")
	return paginate(c.Favorites[user], c.Size, page), nil
}

func (c *Catalog) FetchContent(ctx context.Context, item catalog.Item) (io.ReadCloser, error) {
	c.count("FetchContent")
	if err := c.ContentErrors[item.ID]; err != nil {
		return nil, err
	}
	data, ok := c.Content[item.ID]
	if !ok {
		return nil, fmt.Errorf("no content for %d", item.ID)
	}

	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	if c.ContentDelay > 0 {
		time.Sleep(c.ContentDelay)
	}
	return &trackedBody{Reader: bytes.NewReader(data), c: c}, nil
}

func (c *Catalog) PageSize() int { return c.Size }

func (c *Catalog) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

type trackedBody struct {
	*bytes.Reader
	c    *Catalog
	once sync.Once
}

func (b *trackedBody) Close() error {
	b.once.Do(func() {
		b.c.mu.Lock()
		b.c.inFlight--
		b.c.mu.Unlock()
	})
	return nil
}

func paginate(items []catalog.Item, size, page int) []catalog.Item {
	if size <= 0 || page < 1 {
		return nil
	}
	start := (page - 1) * size
	if start >= len(items) {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
