// Package transfer makes the HTTP requests to the remote content store. It
// classifies failures into permanent and transient ones, retries the
// transient ones with exponential backoff, and keeps a circuit breaker per
// host so a failing host is left alone for a while.
package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/cenk/backoff"
	"github.com/pkg/errors"
	circuit "github.com/rubyist/circuitbreaker"
)

// Response is an open response body from the remote store. The caller must
// close Body.
type Response struct {
	Body        io.ReadCloser
	Size        int64 // length of Body, -1 if unknown
	Offset      int64 // position of the first byte of Body in the remote file
	Total       int64 // size of the whole remote file, -1 if unknown
	ContentType string
}

// Info is the result of a HEAD request.
type Info struct {
	Size         int64 // -1 if unknown
	AcceptRanges bool
	ContentType  string
}

// Fetcher downloads content from the remote store.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	threshold  int64 // consecutive failures before a breaker trips

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client. The session manager supplies one which
// adds credentials to every request.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the first delay for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithBreakerThreshold sets how many consecutive transient failures to a
// host trip its circuit breaker. Zero disables the breakers.
func WithBreakerThreshold(n int) Option {
	return func(f *Fetcher) {
		f.threshold = int64(n)
	}
}

// New creates a new Fetcher with the given options.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Transport: NewTransport()},
		userAgent:  "shelfsync/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   30 * time.Second,
		threshold:  5,
		breakers:   make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// newBackOff returns the retry schedule for one request.
func (f *Fetcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.MaxInterval = f.maxDelay
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // the attempt count is the limit
	b.Reset()
	return b
}

// retry calls fn until it succeeds, returns a permanent error, or the
// retries are used up.
func (f *Fetcher) retry(ctx context.Context, fn func() error) error {
	b := f.newBackOff()
	var err error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}

// Get requests the content at rawurl beginning at byte offset. If the server
// does not honor the range, the returned Response has an Offset of 0.
// Transient failures are retried.
func (f *Fetcher) Get(ctx context.Context, rawurl string, offset int64) (*Response, error) {
	var resp *Response
	err := f.retry(ctx, func() error {
		var err error
		resp, err = f.doGet(ctx, rawurl, offset)
		return err
	})
	return resp, err
}

func (f *Fetcher) newRequest(ctx context.Context, method, rawurl string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	return req, nil
}

func (f *Fetcher) doGet(ctx context.Context, rawurl string, offset int64) (*Response, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawurl)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	result := &Response{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		Total:       -1,
		ContentType: resp.Header.Get("Content-Type"),
	}
	switch resp.StatusCode {
	case http.StatusOK:
		result.Total = resp.ContentLength
	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrapf(err, "fetching %s", rawurl)
		}
		result.Offset = start
		result.Total = total
	}
	return result, nil
}

// Head requests the size of the content at rawurl and whether the server
// will honor byte ranges for it. Transient failures are retried.
func (f *Fetcher) Head(ctx context.Context, rawurl string) (Info, error) {
	var info Info
	err := f.retry(ctx, func() error {
		req, err := f.newRequest(ctx, http.MethodHead, rawurl)
		if err != nil {
			return err
		}
		resp, err := f.do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		size := int64(-1)
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
		info = Info{
			Size:         size,
			AcceptRanges: strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes"),
			ContentType:  resp.Header.Get("Content-Type"),
		}
		return nil
	})
	return info, err
}

// GetJSON requests rawurl and parses the response as a JSON object.
func (f *Fetcher) GetJSON(ctx context.Context, rawurl string) (*jason.Object, error) {
	resp, err := f.Get(ctx, rawurl, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		// a body cut off part way through is worth another try
		if errors.Cause(err) == io.ErrUnexpectedEOF {
			return nil, &TransientError{URL: rawurl, Err: err}
		}
		return nil, errors.Wrapf(err, "decoding %s", rawurl)
	}
	return v, nil
}

// do performs the request through the breaker for its host and maps the
// response status to our errors. On success the response is returned open
// with a 2xx status.
func (f *Fetcher) do(req *http.Request) (*http.Response, error) {
	rawurl := req.URL.String()
	breaker := f.breaker(req.URL)
	if breaker != nil && !breaker.Ready() {
		return nil, &TransientError{URL: rawurl, Err: ErrCircuitOpen}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// the session's transport reports its own errors, which are
		// passed along unchanged
		var ue *url.Error
		if errors.As(err, &ue) && !isNetworkError(ue.Err) {
			return nil, ue.Err
		}
		f.fail(breaker)
		return nil, &TransientError{URL: rawurl, Err: err}
	}
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		if breaker != nil {
			breaker.Success()
		}
		return resp, nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		err = errors.Wrap(ErrUnauthorized, rawurl)
	case status == http.StatusNotFound, status == http.StatusGone:
		err = errors.Wrap(ErrNotFound, rawurl)
	case status == http.StatusRequestedRangeNotSatisfiable:
		err = errors.Wrap(ErrRangeNotSatisfiable, rawurl)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		f.fail(breaker)
		err = &TransientError{URL: rawurl, Status: status}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = errors.Errorf("unexpected status %d fetching %s: %s", status, rawurl, string(body))
	}
	resp.Body.Close()
	return nil, err
}

func (f *Fetcher) fail(b *circuit.Breaker) {
	if b != nil {
		b.Fail()
	}
}

// breaker returns or creates the circuit breaker for the host in u.
func (f *Fetcher) breaker(u *url.URL) *circuit.Breaker {
	if f.threshold <= 0 {
		return nil
	}
	host := u.Host
	f.mu.RLock()
	b, ok := f.breakers[host]
	f.mu.RUnlock()
	if ok {
		return b
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok := f.breakers[host]; ok {
		return b
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()
	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(f.threshold),
	})
	f.breakers[host] = b
	return b
}

// BreakerState returns "open" or "closed" for every host contacted so far.
func (f *Fetcher) BreakerState() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	states := make(map[string]string)
	for host, b := range f.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// parseContentRange parses a header of the form "bytes 100-199/1000". The
// total is -1 if given as "*".
func parseContentRange(h string) (start, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(h, prefix) {
		return 0, 0, errors.Errorf("bad Content-Range %q", h)
	}
	h = h[len(prefix):]
	slash := strings.IndexByte(h, '/')
	dash := strings.IndexByte(h, '-')
	if slash == -1 || dash == -1 || dash > slash {
		return 0, 0, errors.Errorf("bad Content-Range %q", h)
	}
	start, err = strconv.ParseInt(h[:dash], 10, 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Content-Range start")
	}
	total = -1
	if t := h[slash+1:]; t != "*" {
		total, err = strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrap(err, "Content-Range total")
		}
	}
	return start, total, nil
}
