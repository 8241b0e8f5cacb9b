// Package fetcher downloads substitution pages and parses them into
// document trees.
package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"subwatch/internal/document"
	logx "subwatch/pkg/logx"
)

const maxBodyBytes = 8 << 20

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client // optional; tests inject httptest clients
}

type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	log       logx.Logger
}

func New(opts Options, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "subwatch"
	}
	c := opts.Client
	if c == nil {
		c = newHTTPClient(opts.Timeout)
	}
	return &Fetcher{client: c, timeout: opts.Timeout, userAgent: opts.UserAgent, log: log}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	dialTimeout := 10 * time.Second
	if half := timeout / 2; half < dialTimeout {
		dialTimeout = half
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

// Fetch downloads url, decodes it from encoding and parses the result.
// Errors carry one of the package failure categories.
func (f *Fetcher) Fetch(ctx context.Context, url, encoding string) (*document.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, classify(url, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, classify(url, &StatusError{Code: resp.StatusCode, Status: resp.Status})
	}

	body, err := f.decoder(resp, encoding)
	if err != nil {
		return nil, classify(url, err)
	}
	doc, err := document.Parse(body)
	if err != nil {
		return nil, classify(url, errors.Wrap(err, "parse"))
	}
	return doc, nil
}

// decoder wraps the body in a transcoder for encoding. Undecodable bytes
// become U+FFFD. An empty or unknown encoding falls back to the charset
// the response declares, then UTF-8.
func (f *Fetcher) decoder(resp *http.Response, encoding string) (io.Reader, error) {
	body := io.LimitReader(resp.Body, maxBodyBytes)
	name := strings.TrimSpace(encoding)
	if name != "" {
		enc, err := htmlindex.Get(name)
		if err == nil {
			return transform.NewReader(body, enc.NewDecoder()), nil
		}
		f.log.Warn("unknown encoding; detecting from response",
			logx.String("encoding", name), logx.String("url", resp.Request.URL.String()))
	}
	r, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.Wrap(err, "detect charset")
	}
	return r, nil
}
