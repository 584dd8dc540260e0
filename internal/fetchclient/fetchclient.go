// Package fetchclient implements the Fetcher (§4.4): synchronous HTTP GET
// with response classification and the retry/backoff policy.
package fetchclient

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sitewarden/crawler/internal/crawlerr"
)

// Classification is the outcome bucket a fetch falls into once a response
// (or terminal error) is observed.
type Classification string

const (
	ClassOK          Classification = "ok"
	ClassIgnoredType Classification = "ignored_type"
	ClassClientError Classification = "client_error"
	ClassServerError Classification = "server_error"
	ClassNetworkError Classification = "network_error"
	ClassTimeout      Classification = "timeout"
)

// allowedBodyTypes is the set of Content-Type prefixes whose body is kept;
// everything else is discarded per §4.4.
var allowedBodyTypes = map[string]struct{}{
	"text/html":              {},
	"application/xhtml+xml":  {},
	"application/json":       {},
}

// Result is the Fetcher's return value: the effective URL after redirects,
// classification, and body bytes owned by the caller (never persisted by
// this package).
type Result struct {
	EffectiveURL string
	StatusCode   int
	ContentType  string
	Classification Classification
	ElapsedMs    int64
	Body         []byte
	Err          error
}

const maxBodyBytes = 10 * 1024 * 1024

// Fetcher issues GETs with a fixed timeout, standard redirect following
// (max 5 hops), and the §4.4 retry policy.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New builds a Fetcher with the given timeout and User-Agent.
func New(timeout time.Duration, userAgent string) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Fetcher{
		userAgent: userAgent,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// Fetch performs the full retry-aware GET described in §4.4.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Result {
	attempt := 0

	for {
		attempt++
		res := f.doOnce(ctx, rawURL)

		delay, retry := retryDelay(res, attempt)
		if !retry {
			return res
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}
	}
}

// retryDelay decides, per §4.4's retry table, whether attempt should be
// retried and after how long.
func retryDelay(res *Result, attempt int) (time.Duration, bool) {
	switch {
	case res.Classification == ClassTimeout:
		// §4.4: timeout is terminal, no retry.
		return 0, false

	case res.StatusCode == 429 || res.Classification == ClassNetworkError:
		// Backoff starts at 5s and doubles; with at most 3 attempts the waits
		// are 5s and 10s.
		if attempt >= 3 {
			return 0, false
		}
		return time.Duration(5*(1<<uint(attempt-1))) * time.Second, true

	case res.StatusCode >= 400 && res.StatusCode < 500:
		return 0, false

	case res.StatusCode >= 500:
		// 5s then 10s backoff, two retries.
		if attempt >= 3 {
			return 0, false
		}
		return time.Duration(5*attempt) * time.Second, true

	default:
		return 0, false
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// doOnce performs a single GET, following redirects via the http.Client's
// built-in policy, and classifies the outcome.
func (f *Fetcher) doOnce(ctx context.Context, rawURL string) *Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Result{EffectiveURL: rawURL, Classification: ClassNetworkError, Err: crawlerr.New(crawlerr.FetchNetwork, rawURL, err)}
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		kind := crawlerr.FetchNetwork
		class := ClassNetworkError
		if isTimeout(err) {
			kind = crawlerr.FetchTimeout
			class = ClassTimeout
		}
		return &Result{
			EffectiveURL:   rawURL,
			Classification: class,
			ElapsedMs:      time.Since(start).Milliseconds(),
			Err:            crawlerr.New(kind, rawURL, err),
		}
	}
	defer resp.Body.Close()

	effective := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		effective = resp.Request.URL.String()
	}

	contentType := extractContentType(resp.Header.Get("Content-Type"))
	result := &Result{
		EffectiveURL: effective,
		StatusCode:   resp.StatusCode,
		ContentType:  contentType,
		ElapsedMs:    time.Since(start).Milliseconds(),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300 && isAllowedType(contentType):
		body, err := readBody(resp)
		if err != nil {
			result.Classification = ClassNetworkError
			result.Err = crawlerr.New(crawlerr.FetchNetwork, rawURL, err)
			return result
		}
		result.Body = body
		result.Classification = ClassOK
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Classification = ClassIgnoredType
		result.Err = crawlerr.New(crawlerr.FetchIgnored, rawURL, fmt.Errorf("content-type %q not eligible", contentType))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		result.Classification = ClassClientError
		result.Err = crawlerr.New(crawlerr.FetchHTTP4xx, rawURL, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		result.Classification = ClassServerError
		result.Err = crawlerr.New(crawlerr.FetchHTTP5xx, rawURL, fmt.Errorf("status %d", resp.StatusCode))
	default:
		result.Classification = ClassIgnoredType
	}

	return result
}

func (f *Fetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

func isAllowedType(contentType string) bool {
	for allowed := range allowedBodyTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}

func extractContentType(raw string) string {
	if idx := strings.Index(raw, ";"); idx != -1 {
		return strings.TrimSpace(raw[:idx])
	}
	return strings.TrimSpace(raw)
}

// Close releases pooled connections.
func (f *Fetcher) Close() {
	if t, ok := f.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
