package catalog

import (
	"context"
	"errors"
	"io"
)

// ErrIdentityMismatch is returned when the service answers a group request
// with data belonging to a different group.
var ErrIdentityMismatch = errors.New("retrieved group does not match requested group")

// File describes the binary content behind an item.
type File struct {
	URL  string
	Ext  string
	MD5  string
	Size int64
}

// Item is a single catalog entry as fetched from the service. Items are
// snapshots and are never modified after decoding.
type Item struct {
	ID                int64
	ParentID          int64 // 0 when the item has no parent
	Children          []int64
	HasActiveChildren bool
	Tags              map[string][]string
	File              File
	Groups            []int64
}

// HasParent reports whether the item points at a parent.
func (i Item) HasParent() bool { return i.ParentID != 0 }

// HasTag reports whether tag appears in any tag category of the item.
func (i Item) HasTag(tag string) bool {
	for _, tags := range i.Tags {
		for _, t := range tags {
			if t == tag {
				return true
			}
		}
	}
	return false
}

// InGroup reports whether the item lists groupID among its groups.
func (i Item) InGroup(groupID int64) bool {
	for _, g := range i.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Group is the metadata of an ordered item collection (a pool).
type Group struct {
	ID            int64
	Name          string
	ExpectedCount int
}

// Client defines the operations the queue builder, the relationship
// resolver and the download executor need from the remote catalog.
type Client interface {
	// FetchItem looks up a single item. found is false when the service
	// does not know the id (removed or deleted items).
	FetchItem(ctx context.Context, id int64) (item Item, found bool, err error)
	FetchGroup(ctx context.Context, id int64) (Group, error)
	FetchGroupMembers(ctx context.Context, id int64, page int) ([]Item, error)
	RunQuery(ctx context.Context, expr string, limit, page int) ([]Item, error)
	FetchFavorites(ctx context.Context, user string, page int) ([]Item, error)
	// FetchContent opens the binary content of item. The caller closes it.
	FetchContent(ctx context.Context, item Item) (io.ReadCloser, error)

	// PageSize is the maximum number of items a single page can hold.
	PageSize() int
	// Requests is the number of remote requests issued so far.
	Requests() int
}
