package index

import (
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var folderReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// FolderName turns a collection name (a query, a user, a pool name) into a
// single path element that is stable across runs and filesystems.
func FolderName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = folderReplacer.Replace(name)
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "_"
	}
	return name
}

// GroupKey is the index key of a group.
func GroupKey(id int64) string { return strconv.FormatInt(id, 10) }

// GroupFolder is "Groups/<id> - <name>" under root.
func GroupFolder(root string, id int64, name string) string {
	return filepath.Join(root, string(Groups), GroupKey(id)+" - "+FolderName(name))
}

// KindFolder is the folder of kind under root, optionally followed by a
// collection key and a nested family folder.
func KindFolder(root string, kind Kind, elems ...string) string {
	parts := append([]string{root, string(kind)}, elems...)
	return filepath.Join(parts...)
}
