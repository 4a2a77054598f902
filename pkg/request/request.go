// Package request loads the list of collections to retrieve.
//
// JSON and YAML files have four sections:
//
//	{
//	  "pools":     [12345],
//	  "posts":     [678],
//	  "searches":  [{"query": "fox rating:s", "limit": 20}, "wolf"],
//	  "favorites": ["someone"]
//	}
//
// "groups" and "items" are accepted as aliases of "pools" and "posts". A
// plain string in "searches" uses the default limit. Files ending in .txt use
// the line format: blank lines are ignored and each line starting with '#'
// opens the next section in the order pools, posts, searches, favorites.
package request

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/queue"
)

// DefaultFile is the request file used when none is given.
const DefaultFile = "inputFiles.json"

// Load reads the request file at path.
func Load(path string) (queue.Request, error) {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return loadLines(path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return queue.Request{}, fmt.Errorf("read request file %s: %w", path, err)
	}

	var req queue.Request
	var err error
	if req.Groups, err = ids(v, "pools", "groups"); err != nil {
		return queue.Request{}, err
	}
	if req.Items, err = ids(v, "posts", "items"); err != nil {
		return queue.Request{}, err
	}
	if req.Searches, err = searches(v.Get("searches")); err != nil {
		return queue.Request{}, err
	}
	for _, user := range v.GetStringSlice("favorites") {
		if user = strings.TrimSpace(user); user != "" {
			req.Favorites = append(req.Favorites, user)
		}
	}
	return req, nil
}

func ids(v *viper.Viper, keys ...string) ([]int64, error) {
	var out []int64
	for _, key := range keys {
		for _, s := range v.GetStringSlice(key) {
			id, err := parseID(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out = append(out, id)
		}
	}
	return out, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func searches(raw interface{}) ([]queue.Search, error) {
	if raw == nil {
		return nil, nil
	}
	list, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("searches: %w", err)
	}

	out := make([]queue.Search, 0, len(list))
	for i, elem := range list {
		if s, ok := elem.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, queue.Search{Query: s})
			}
			continue
		}

		m, err := cast.ToStringMapE(elem)
		if err != nil {
			return nil, fmt.Errorf("searches[%d]: %w", i, err)
		}
		query := strings.TrimSpace(cast.ToString(m["query"]))
		if query == "" {
			return nil, fmt.Errorf("searches[%d]: missing query", i)
		}
		limit, err := cast.ToIntE(m["limit"])
		if err != nil {
			return nil, fmt.Errorf("searches[%d]: limit: %w", i, err)
		}
		if limit < catalog.Unbounded {
			return nil, fmt.Errorf("searches[%d]: invalid limit %d", i, limit)
		}
		out = append(out, queue.Search{Query: query, Limit: limit})
	}
	return out, nil
}

func loadLines(path string) (queue.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return queue.Request{}, fmt.Errorf("read request file %s: %w", path, err)
	}
	defer f.Close()

	var req queue.Request
	section := -1
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			section++
			continue
		}

		switch section {
		case 0, 1:
			id, err := parseID(line)
			if err != nil {
				return queue.Request{}, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			if section == 0 {
				req.Groups = append(req.Groups, id)
			} else {
				req.Items = append(req.Items, id)
			}
		case 2:
			req.Searches = append(req.Searches, queue.Search{Query: line})
		case 3:
			req.Favorites = append(req.Favorites, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return queue.Request{}, fmt.Errorf("read request file %s: %w", path, err)
	}
	return req, nil
}
