package provider

import (
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/context/ctxhttp"
)

const (
	DefaultTimeout = 25 * time.Second
	MaxRetryLimit  = 2
)

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs one logical outbound call. Non 2xx statuses come back
// as a Response; only transport failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPFetcher bounds every attempt with Timeout and retries 5xx, 429 and
// timeouts up to MaxRetries times with a linear backoff.
type HTTPFetcher struct {
	Client     *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Verbose    bool
}

func NewHTTPFetcher(timeout time.Duration, maxRetries int, backoff time.Duration, verbose bool) *HTTPFetcher {
	return &HTTPFetcher{
		Client:     &http.Client{},
		Timeout:    timeout,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Verbose:    verbose,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	retries := f.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > MaxRetryLimit {
		retries = MaxRetryLimit
	}

	var resp *Response
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.Backoff):
			}
			if f.Verbose {
				log.Printf("retrying %s %s (attempt %d)", req.Method, req.URL, attempt+1)
			}
		}

		resp, err = f.do(ctx, req)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			if !isTimeout(err) {
				return nil, err
			}
			continue
		}
		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
	}
	return resp, err
}

func (f *HTTPFetcher) do(ctx context.Context, req *Request) (*Response, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequest(method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	if f.Verbose {
		log.Printf("%s %s", method, req.URL)
	}
	resp, err := ctxhttp.Do(ctx, client, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
