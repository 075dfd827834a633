package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sounding-agent", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("<html><pre>data</pre></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "sounding-agent", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), sounding.FetchRequest{
		URL:     srv.URL + "/cgi-bin/sounding",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html><pre>data</pre></html>", string(resp.Body))

	// Same URL again must not be rejected as already visited.
	_, err = f.Fetch(context.Background(), sounding.FetchRequest{URL: srv.URL + "/cgi-bin/sounding", Headers: http.Header{"X-Trace": {"yes"}}})
	require.NoError(t, err)
}

func TestFetchServerErrorIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), sounding.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, sounding.ErrTransport)

	var te *sounding.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.StatusInternalServerError, te.StatusCode)
	require.Equal(t, srv.URL, te.URL)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, sounding.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, sounding.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, IsTimeout(err))
}

func TestFetchWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := &countingLimiter{}
	f := New(Config{Timeout: time.Second, Limiter: limiter})
	_, err := f.Fetch(context.Background(), sounding.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.EqualValues(t, 1, limiter.calls.Load())

	limiter.err = errors.New("budget exhausted")
	_, err = f.Fetch(context.Background(), sounding.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, sounding.ErrTransport)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := sounding.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var (
		result   sounding.FetchResponse
		fetchErr error
		status   int
	)

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr, &status)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "body", string(result.Body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
	require.Equal(t, http.StatusBadGateway, status)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(sounding.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type countingLimiter struct {
	calls atomic.Int64
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
