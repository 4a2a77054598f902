package queue

import "github.com/e6grab/e6grab/pkg/catalog"

// Search is a saved query. Limit caps the number of results; catalog.Unbounded
// asks for every result and zero selects the builder's default.
type Search struct {
	Query string
	Limit int
}

// Request lists the collections to retrieve, each in declared order.
type Request struct {
	Groups    []int64
	Items     []int64
	Searches  []Search
	Favorites []string
}

// Empty reports whether nothing was requested.
func (r Request) Empty() bool {
	return len(r.Groups) == 0 && len(r.Items) == 0 && len(r.Searches) == 0 && len(r.Favorites) == 0
}

// Entry is an item waiting to be downloaded into Folder. Path is filled in
// by the download executor once the entry is finalized.
type Entry struct {
	Item   catalog.Item
	Folder string
	Path   string
}
