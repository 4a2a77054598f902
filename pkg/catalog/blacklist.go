package catalog

import (
	"sort"
	"strings"
)

// Blacklist is a static set of tags. Items carrying any of them are dropped
// when they are reached through relationship expansion.
type Blacklist map[string]struct{}

// NewBlacklist builds a Blacklist, ignoring blanks and surrounding spaces.
func NewBlacklist(tags []string) Blacklist {
	b := make(Blacklist, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			b[t] = struct{}{}
		}
	}
	return b
}

// Matches reports whether item carries a blacklisted tag.
func (b Blacklist) Matches(item Item) bool {
	if len(b) == 0 {
		return false
	}
	for _, tags := range item.Tags {
		for _, t := range tags {
			if _, ok := b[t]; ok {
				return true
			}
		}
	}
	return false
}

// Negate renders the blacklist as query exclusions ("-tag"), sorted for a
// stable query string.
func (b Blacklist) Negate() []string {
	out := make([]string, 0, len(b))
	for t := range b {
		out = append(out, "-"+t)
	}
	sort.Strings(out)
	return out
}
