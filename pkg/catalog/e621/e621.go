package e621

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/e6grab/e6grab/pkg/catalog"
	"github.com/e6grab/e6grab/pkg/whttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"github.com/weppos/publicsuffix-go/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL         = "https://e621.net"
	DefaultUserAgent       = "e6grab/2.0 (https://github.com/e6grab/e6grab)"
	DefaultPageSize        = 320
	DefaultRequestInterval = 500 * time.Millisecond

	// metadata calls retry on 429/5xx, content transfers are attempted once
	apiRetryMax     = 3
	contentRetryMax = 0
)

// Options configures a Client. Zero values fall back to the defaults above,
// except RequestInterval: zero disables rate limiting, a negative value
// selects DefaultRequestInterval.
type Options struct {
	BaseURL         string
	Username        string
	APIKey          string
	UserAgent       string
	PageSize        int
	RequestInterval time.Duration
}

// Client talks to an e621-compatible JSON API. It implements catalog.Client.
type Client struct {
	baseURL    *url.URL
	authB64    string
	authDomain string
	userAgent  string
	pageSize   int

	limiter *rate.Limiter
	api     *retryablehttp.Client
	content *retryablehttp.Client

	requests atomic.Int64
}

var _ catalog.Client = (*Client)(nil)

// NewClient builds a Client from opts.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RequestInterval < 0 {
		opts.RequestInterval = DefaultRequestInterval
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing scheme or host", opts.BaseURL)
	}

	limit := rate.Inf
	if opts.RequestInterval > 0 {
		limit = rate.Every(opts.RequestInterval)
	}

	c := &Client{
		baseURL:    base,
		authDomain: registrableDomain(base.Hostname()),
		userAgent:  opts.UserAgent,
		pageSize:   opts.PageSize,
		limiter:    rate.NewLimiter(limit, 1),
		api:        whttp.NewClient(apiRetryMax),
		content:    whttp.NewClient(contentRetryMax),
	}
	if opts.Username != "" && opts.APIKey != "" {
		c.authB64 = base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.APIKey))
	}
	return c, nil
}

// HTTPClients exposes the underlying clients so callers can configure
// proxies on them.
func (c *Client) HTTPClients() []*retryablehttp.Client {
	return []*retryablehttp.Client{c.api, c.content}
}

func (c *Client) PageSize() int { return c.pageSize }

func (c *Client) Requests() int { return int(c.requests.Load()) }

func (c *Client) FetchItem(ctx context.Context, id int64) (catalog.Item, bool, error) {
	body, status, err := c.getJSON(ctx, "/posts.json", url.Values{"tags": {"id:" + strconv.FormatInt(id, 10)}})
	if err != nil {
		if status == http.StatusNotFound {
			return catalog.Item{}, false, nil
		}
		return catalog.Item{}, false, fmt.Errorf("fetch post %d: %w", id, err)
	}

	posts := gjson.Get(body, "posts").Array()
	if len(posts) == 0 {
		return catalog.Item{}, false, nil
	}
	item := parsePost(posts[0])
	if item.ID != id {
		return catalog.Item{}, false, nil
	}
	return item, true, nil
}

func (c *Client) FetchGroup(ctx context.Context, id int64) (catalog.Group, error) {
	body, _, err := c.getJSON(ctx, "/pools.json", url.Values{"search[id]": {strconv.FormatInt(id, 10)}})
	if err != nil {
		return catalog.Group{}, fmt.Errorf("fetch pool %d: %w", id, err)
	}

	pools := gjson.Parse(body).Array()
	if len(pools) == 0 || pools[0].Get("id").Int() != id {
		return catalog.Group{}, fmt.Errorf("pool %d: %w", id, catalog.ErrIdentityMismatch)
	}
	return catalog.Group{
		ID:            id,
		Name:          pools[0].Get("name").Str,
		ExpectedCount: int(pools[0].Get("post_count").Int()),
	}, nil
}

func (c *Client) FetchGroupMembers(ctx context.Context, id int64, page int) ([]catalog.Item, error) {
	items, err := c.listPosts(ctx, "pool:"+strconv.FormatInt(id, 10), c.pageSize, page)
	if err != nil {
		return nil, fmt.Errorf("fetch pool %d page %d: %w", id, page, err)
	}
	if len(items) > 0 && !items[0].InGroup(id) {
		return nil, fmt.Errorf("pool %d page %d: %w", id, page, catalog.ErrIdentityMismatch)
	}
	return items, nil
}

func (c *Client) RunQuery(ctx context.Context, expr string, limit, page int) ([]catalog.Item, error) {
	if limit <= 0 || limit > c.pageSize {
		limit = c.pageSize
	}
	items, err := c.listPosts(ctx, expr, limit, page)
	if err != nil {
		return nil, fmt.Errorf("search %q page %d: %w", expr, page, err)
	}
	return items, nil
}

func (c *Client) FetchFavorites(ctx context.Context, user string, page int) ([]catalog.Item, error) {
	items, err := c.listPosts(ctx, "fav:"+user, c.pageSize, page)
	if err != nil {
		return nil, fmt.Errorf("fetch favorites of %s page %d: %w", user, page, err)
	}
	return items, nil
}

// FetchContent streams the file of item. Credentials are only sent when the
// file is served from the same registrable domain as the API.
func (c *Client) FetchContent(ctx context.Context, item catalog.Item) (io.ReadCloser, error) {
	if item.File.URL == "" {
		return nil, fmt.Errorf("post %d has no file URL", item.ID)
	}
	u, err := url.Parse(item.File.URL)
	if err != nil {
		return nil, fmt.Errorf("post %d: invalid file URL: %w", item.ID, err)
	}

	headers := []whttp.WHTTPHeader{{Name: "User-Agent", Value: c.userAgent}}
	if c.authB64 != "" && registrableDomain(u.Hostname()) == c.authDomain {
		headers = append(headers, whttp.WHTTPHeader{Name: "Authorization", Value: "Basic " + c.authB64})
	}

	c.requests.Add(1)
	body, err := whttp.OpenStream(ctx, &whttp.WHTTPReq{Method: http.MethodGet, URL: u.String(), Headers: headers}, c.content)
	if err != nil {
		return nil, fmt.Errorf("download post %d: %w", item.ID, err)
	}
	return body, nil
}

func (c *Client) listPosts(ctx context.Context, tags string, limit, page int) ([]catalog.Item, error) {
	body, _, err := c.getJSON(ctx, "/posts.json", url.Values{
		"tags":  {tags},
		"limit": {strconv.Itoa(limit)},
		"page":  {strconv.Itoa(page)},
	})
	if err != nil {
		return nil, err
	}

	var items []catalog.Item
	gjson.Get(body, "posts").ForEach(func(_, p gjson.Result) bool {
		items = append(items, parsePost(p))
		return true
	})
	return items, nil
}

// getJSON waits for the rate limiter, issues an API request and returns the
// body. On a non-200 answer the status code is returned with the error.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) (string, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}

	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	headers := []whttp.WHTTPHeader{
		{Name: "User-Agent", Value: c.userAgent},
		{Name: "Accept", Value: "application/json"},
	}
	if c.authB64 != "" {
		headers = append(headers, whttp.WHTTPHeader{Name: "Authorization", Value: "Basic " + c.authB64})
	}

	c.requests.Add(1)
	req := &whttp.WHTTPReq{Method: http.MethodGet, URL: u.String(), Headers: headers}
	res, err := whttp.SendHTTPRequest(ctx, req, c.api)
	if err != nil {
		return "", 0, err
	}
	if err := whttp.AsStatusError(req, res); err != nil {
		return "", res.StatusCode, err
	}
	if !gjson.Valid(res.BodyString) {
		return "", res.StatusCode, fmt.Errorf("invalid JSON from %s", u.Redacted())
	}
	return res.BodyString, res.StatusCode, nil
}

func parsePost(p gjson.Result) catalog.Item {
	item := catalog.Item{
		ID:                p.Get("id").Int(),
		ParentID:          p.Get("relationships.parent_id").Int(),
		HasActiveChildren: p.Get("relationships.has_active_children").Bool(),
		Tags:              map[string][]string{},
		File: catalog.File{
			URL:  p.Get("file.url").Str,
			Ext:  p.Get("file.ext").Str,
			MD5:  p.Get("file.md5").Str,
			Size: p.Get("file.size").Int(),
		},
	}
	for _, child := range p.Get("relationships.children").Array() {
		item.Children = append(item.Children, child.Int())
	}
	for _, pool := range p.Get("pools").Array() {
		item.Groups = append(item.Groups, pool.Int())
	}
	p.Get("tags").ForEach(func(category, tags gjson.Result) bool {
		for _, t := range tags.Array() {
			item.Tags[category.Str] = append(item.Tags[category.Str], t.Str)
		}
		return true
	})
	return item
}

// registrableDomain maps static1.e621.net and e621.net to the same key. IPs
// and hosts without a public suffix are compared verbatim.
func registrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.Domain(host)
	if err != nil {
		return host
	}
	return domain
}
