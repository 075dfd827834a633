// Package collyfetcher implements sounding.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

const defaultTimeout = 30 * time.Second

// Limiter delays a request until the politeness budget allows it.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   Limiter
	Logger    *zap.Logger
}

// Fetcher implements sounding.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := newHTTPTransport()
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		// Soundings for different days share a path; the same URL may also be
		// requested again by later runs of a long-lived process.
		colly.AllowURLRevisit(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. Network failures and non-2xx responses
// come back as *sounding.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, request sounding.FetchRequest) (sounding.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return sounding.FetchResponse{}, &sounding.TransportError{URL: request.URL, Err: err}
		}
	}

	var (
		result     sounding.FetchResponse
		fetchErr   error
		statusCode int
	)
	start := time.Now()
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr, &statusCode)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.Int("status", statusCode), zap.Error(err))
		return sounding.FetchResponse{}, &sounding.TransportError{URL: request.URL, StatusCode: statusCode, Err: err}
	}
	f.logger.Debug("fetch succeeded",
		zap.String("url", request.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// buildCollector clones the base collector so callbacks stay per request while
// the HTTP backend and its connection pool are shared.
func (f *Fetcher) buildCollector() *colly.Collector {
	return f.baseCollector.Clone()
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request sounding.FetchRequest,
	start time.Time,
	result *sounding.FetchResponse,
	fetchErr *error,
	statusCode *int,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*statusCode = r.StatusCode
		*result = sounding.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(request sounding.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// IsTimeout reports whether err was caused by a network or context timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
