package whttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http/httpproxy"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
}

type WHTTPRes struct {
	StatusCode     int
	ResponseLength int
	HTTPTitle      string
	BodyString     string
}

// StatusError is returned when the server answers with anything but 200.
type StatusError struct {
	StatusCode int
	URL        string
	Title      string
}

func (e *StatusError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("HTTP %d from %s (%s)", e.StatusCode, e.URL, e.Title)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

var defaultClient = NewClient(3)

// NewClient returns a retrying client that gives up after retryMax extra
// attempts. A retryMax of 0 means exactly one attempt.
func NewClient(retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = log.New(io.Discard, "", 0)
	c.RetryMax = retryMax
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

func GetDefaultClient() *retryablehttp.Client {
	return defaultClient
}

// SetupProxy routes every request of the given clients (the default client
// when none are passed) through proxy. An empty proxy falls back to the
// HTTP_PROXY/HTTPS_PROXY/NO_PROXY environment.
func SetupProxy(proxy string, clients ...*retryablehttp.Client) error {
	cfg := httpproxy.FromEnvironment()
	if proxy != "" {
		if _, err := url.Parse(proxy); err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		cfg = &httpproxy.Config{HTTPProxy: proxy, HTTPSProxy: proxy}
	}
	proxyFunc := cfg.ProxyFunc()

	if len(clients) == 0 {
		clients = []*retryablehttp.Client{defaultClient}
	}
	for _, c := range clients {
		transport := &http.Transport{
			Proxy: func(r *http.Request) (*url.URL, error) {
				return proxyFunc(r.URL)
			},
		}
		if proxy != "" {
			// Debugging proxies usually present their own certificate.
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c.HTTPClient.Transport = transport
	}
	return nil
}

func newRequest(ctx context.Context, wReq *WHTTPReq) (*retryablehttp.Request, error) {
	method := wReq.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, wReq.URL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept-Language", "en")
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	return req, nil
}

// SendHTTPRequest performs the request and reads the whole body. Non-200
// answers are returned as a *WHTTPRes, not as an error.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (wRes *WHTTPRes, err error) {
	if client == nil {
		client = defaultClient
	}
	req, err := newRequest(ctx, wReq)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	wRes = &WHTTPRes{
		StatusCode: resp.StatusCode,
		BodyString: string(bodyBytes),
	}
	if isHTML(resp.Header.Get("Content-Type"), wRes.BodyString) {
		wRes.HTTPTitle = getHTMLTitle(wRes.BodyString)
	}
	wRes.ResponseLength = utf8.RuneCountInString(wRes.BodyString)
	return wRes, nil
}

// OpenStream performs the request and hands the open body to the caller,
// who must close it. Non-200 answers are turned into a *StatusError.
func OpenStream(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (io.ReadCloser, error) {
	if client == nil {
		client = defaultClient
	}
	req, err := newRequest(ctx, wReq)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: wReq.URL}
		if isHTML(resp.Header.Get("Content-Type"), string(body)) {
			statusErr.Title = getHTMLTitle(string(body))
		}
		return nil, statusErr
	}
	return resp.Body, nil
}

// AsStatusError converts a non-200 WHTTPRes into a *StatusError.
func AsStatusError(wReq *WHTTPReq, wRes *WHTTPRes) error {
	if wRes.StatusCode == http.StatusOK {
		return nil
	}
	return &StatusError{StatusCode: wRes.StatusCode, URL: wReq.URL, Title: wRes.HTTPTitle}
}

func isHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(body), "<")
}

// getHTMLTitle summarises an HTML page (usually an error or challenge page)
// as its title, followed by the first heading when there is one.
func getHTMLTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	clean := func(s string) string {
		s = strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\r", "")
		return strings.ToValidUTF8(strings.Join(strings.Fields(s), " "), "")
	}

	title := clean(doc.Find("title").First().Text())
	heading := clean(doc.Find("h1").First().Text())
	switch {
	case title == "":
		return heading
	case heading == "" || heading == title:
		return title
	default:
		return title + ": " + heading
	}
}
