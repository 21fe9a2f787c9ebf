package mtasts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testPolicy = "version: STSv1\nmode: enforce\nmx: mx.example.org\nmax_age: 86400\n"

func testFetcher(srv *httptest.Server) *HTTPFetcher {
	f := NewHTTPFetcher()
	f.Client.Transport = srv.Client().Transport
	return f
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "mxtrust" {
			t.Errorf("wrong User-Agent: %v", r.UserAgent())
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, testPolicy)
	}))
	defer srv.Close()

	contents, err := testFetcher(srv).Fetch(context.Background(), srv.URL+"/.well-known/mta-sts.txt", DefaultMaxPolicySize)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != testPolicy {
		t.Errorf("wrong contents: %q", contents)
	}
}

func TestHTTPFetcher_Errors(t *testing.T) {
	type handler func(w http.ResponseWriter, r *http.Request)
	cases := []struct {
		name    string
		handler handler
		status  int
	}{
		{
			name: "redirect",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "https://mta-sts.example.com/.well-known/mta-sts.txt", http.StatusFound)
			},
			status: http.StatusFound,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			status: http.StatusNotFound,
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				io.WriteString(w, testPolicy)
			},
			status: http.StatusOK,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewTLSServer(http.HandlerFunc(c.handler))
			defer srv.Close()

			_, err := testFetcher(srv).Fetch(context.Background(), srv.URL, DefaultMaxPolicySize)
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected HTTPError, got %v", err)
			}
			if httpErr.StatusCode != c.status {
				t.Errorf("wrong status, want %d, got %d", c.status, httpErr.StatusCode)
			}
		})
	}
}

func TestHTTPFetcher_HTTPOnly(t *testing.T) {
	f := NewHTTPFetcher()
	f.Client.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("request should not be sent")
		return nil, nil
	})

	_, err := f.Fetch(context.Background(), "http://mta-sts.example.org/.well-known/mta-sts.txt", DefaultMaxPolicySize)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
}

func TestHTTPFetcher_ContentLengthTooLarge(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", strconv.Itoa(2000))
		io.WriteString(w, strings.Repeat("a", 2000))
	}))
	defer srv.Close()

	_, err := testFetcher(srv).Fetch(context.Background(), srv.URL, 1000)
	var sizeErr *PolicyTooLargeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected PolicyTooLargeError, got %v", err)
	}
	if sizeErr.Actual != 2000 || sizeErr.Max != 1000 {
		t.Errorf("wrong sizes: %+v", sizeErr)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// endlessReader returns an infinite stream of 'a' and counts bytes returned.
type endlessReader struct {
	read int64
}

func (r *endlessReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 'a'
	}
	r.read += int64(len(b))
	return len(b), nil
}

func TestHTTPFetcher_MisleadingContentLength(t *testing.T) {
	body := &endlessReader{}
	f := NewHTTPFetcher()
	f.Client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Status:        "200 OK",
			Header:        http.Header{"Content-Type": []string{"text/plain"}},
			ContentLength: 10,
			Body:          io.NopCloser(body),
			Request:       r,
		}, nil
	})

	_, err := f.Fetch(context.Background(), "https://mta-sts.example.org/.well-known/mta-sts.txt", 1000)
	var sizeErr *PolicyTooLargeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected PolicyTooLargeError, got %v", err)
	}
	if sizeErr.Actual != 1001 {
		t.Errorf("wrong actual size: %v", sizeErr.Actual)
	}
	if body.read > 1001 {
		t.Errorf("read more than needed from the body: %v bytes", body.read)
	}
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := testFetcher(srv).Fetch(ctx, srv.URL, DefaultMaxPolicySize)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Operation != "http_request" {
		t.Errorf("wrong operation: %v", timeoutErr.Operation)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("TimeoutError should match context.DeadlineExceeded")
	}
}
