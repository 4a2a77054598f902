// Package index builds the snapshot of items already present under the
// destination root, keyed by the collection folder they were saved into.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Kind is a top-level collection folder under the destination root.
type Kind string

const (
	Groups    Kind = "Groups"
	Items     Kind = "Items"
	Searches  Kind = "Searches"
	Favorites Kind = "Favorites"
)

// Kinds lists every collection kind in processing order.
var Kinds = []Kind{Groups, Items, Searches, Favorites}

// PartialSuffix marks a transfer that has not completed yet.
const PartialSuffix = ".part"

// Index maps collection keys to the ids already on disk. It is built once
// per run and only read afterwards.
type Index struct {
	sets map[Kind]map[string]map[int64]struct{}
	all  map[int64]struct{}
}

// New returns an empty Index.
func New() *Index {
	x := &Index{
		sets: make(map[Kind]map[string]map[int64]struct{}, len(Kinds)),
		all:  make(map[int64]struct{}),
	}
	for _, k := range Kinds {
		x.sets[k] = make(map[string]map[int64]struct{})
	}
	return x
}

// Build walks root and records every "<id>.<ext>" file. A missing root
// yields an empty index.
func Build(root string) (*Index, error) {
	x := New()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || strings.HasSuffix(d.Name(), PartialSuffix) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		x.addPath(strings.Split(rel, string(os.PathSeparator)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return x, nil
}

func (x *Index) addPath(parts []string) {
	id, ok := ParseID(parts[len(parts)-1])
	if !ok {
		return
	}

	for i, p := range parts[:len(parts)-1] {
		kind := Kind(p)
		if _, known := x.sets[kind]; !known {
			continue
		}
		key := ""
		if i+1 < len(parts)-1 {
			key = parts[i+1]
			if kind == Groups {
				key = groupKeyOf(key)
			}
		}
		x.Add(kind, key, id)
		return
	}
	x.all[id] = struct{}{}
}

// groupKeyOf reads the leading id of a group folder name, so "10 - Story"
// and "10 -" both map to "10".
func groupKeyOf(folder string) string {
	end := 0
	for end < len(folder) && folder[end] >= '0' && folder[end] <= '9' {
		end++
	}
	if end == 0 {
		return strings.SplitN(folder, " - ", 2)[0]
	}
	return folder[:end]
}

// ParseID extracts the item id from a file name such as "1234.png".
func ParseID(name string) (int64, bool) {
	base := strings.SplitN(name, ".", 2)[0]
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Add records id under kind/key. An empty key records the id only in the
// flat set, as for files stored directly in a kind folder.
func (x *Index) Add(kind Kind, key string, id int64) {
	x.all[id] = struct{}{}
	if key == "" {
		return
	}
	set, ok := x.sets[kind][key]
	if !ok {
		set = make(map[int64]struct{})
		x.sets[kind][key] = set
	}
	set[id] = struct{}{}
}

// Has reports whether id is on disk in collection kind/key.
func (x *Index) Has(kind Kind, key string, id int64) bool {
	_, ok := x.sets[kind][key][id]
	return ok
}

// Count is the number of distinct ids on disk for kind/key.
func (x *Index) Count(kind Kind, key string) int {
	return len(x.sets[kind][key])
}

// Known reports whether id is anywhere under the root.
func (x *Index) Known(id int64) bool {
	_, ok := x.all[id]
	return ok
}

// Keys returns the collection keys of kind in sorted order.
func (x *Index) Keys(kind Kind) []string {
	keys := make([]string, 0, len(x.sets[kind]))
	for k := range x.sets[kind] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of distinct ids found.
func (x *Index) Len() int { return len(x.all) }
