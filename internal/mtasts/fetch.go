package mtasts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/foxcpp/mxtrust/framework/exterrors"
)

// DefaultMaxPolicySize is the maximum accepted policy body size.
const DefaultMaxPolicySize = 1024 * 1024

// Fetcher downloads the policy file.
//
// Returned errors should be *HTTPError, *PolicyTooLargeError or
// *TimeoutError.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxSize int64) ([]byte, error)
}

// HTTPFetcher is the Fetcher that uses net/http. Only HTTPS URLs are
// accepted and redirects are never followed.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			// Redirects are not allowed by RFC 8461 Section 3.3.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: time.Minute,
		},
		UserAgent: "mxtrust",
	}
}

func PolicyURL(domain string) string {
	return "https://mta-sts." + domain + "/.well-known/mta-sts.txt"
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxSize int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &HTTPError{URL: rawURL, Err: err}
	}
	if u.Scheme != "https" {
		return nil, &HTTPError{URL: rawURL, Err: errors.New("only HTTPS is allowed")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &HTTPError{URL: rawURL, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	start := time.Now()
	resp, err := f.Client.Do(req)
	if err != nil {
		if exterrors.IsTimeout(err) {
			return nil, timeoutErr(ctx, "http_request", start)
		}
		return nil, &HTTPError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || contentType != "text/plain" {
		return nil, &HTTPError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected content type: %q", resp.Header.Get("Content-Type")),
		}
	}

	if maxSize > 0 && resp.ContentLength > maxSize {
		return nil, &PolicyTooLargeError{Actual: resp.ContentLength, Max: maxSize}
	}

	var body io.Reader = resp.Body
	if maxSize > 0 {
		// Content-Length can lie, so the read is limited independently.
		body = io.LimitReader(resp.Body, maxSize+1)
	}
	contents, err := io.ReadAll(body)
	if err != nil {
		if exterrors.IsTimeout(err) {
			return nil, timeoutErr(ctx, "http_request", start)
		}
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	if maxSize > 0 && int64(len(contents)) > maxSize {
		return nil, &PolicyTooLargeError{Actual: int64(len(contents)), Max: maxSize}
	}

	return contents, nil
}

func timeoutErr(ctx context.Context, op string, start time.Time) *TimeoutError {
	now := time.Now()
	e := &TimeoutError{Operation: op, Elapsed: now.Sub(start)}
	if deadline, ok := ctx.Deadline(); ok {
		e.Timeout = deadline.Sub(start)
	}
	return e
}
