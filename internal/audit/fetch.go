package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// staticPage is the result of one plain HTTP fetch.
type staticPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// StaticFetcher performs the first, non-rendering fetch using Colly.
type StaticFetcher struct {
	userAgent string
	timeout   time.Duration
	base      *colly.Collector
}

// NewStaticFetcher builds a fetcher with a pooled transport.
func NewStaticFetcher(userAgent string, timeout time.Duration) *StaticFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return &StaticFetcher{userAgent: userAgent, timeout: timeout, base: c}
}

// Fetch executes one HTTP GET and returns the raw page. Error responses are
// returned as pages with their status code, not as errors; transport failures
// are errors.
func (f *StaticFetcher) Fetch(ctx context.Context, rawURL string) (staticPage, error) {
	collector := f.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.timeout)
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}

	var (
		page     staticPage
		fetchErr error
		gotBody  bool
	)
	collector.OnResponse(func(r *colly.Response) {
		page = staticPage{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		gotBody = true
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			page = staticPage{
				URL:        rawURL,
				FinalURL:   rawURL,
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
			gotBody = true
			return
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(rawURL); err != nil && fetchErr == nil && !gotBody {
			fetchErr = err
		}
		collector.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return staticPage{}, fmt.Errorf("static fetch %s: %w", rawURL, ctx.Err())
	}

	if fetchErr != nil {
		return staticPage{}, fmt.Errorf("static fetch %s: %w", rawURL, fetchErr)
	}
	if !gotBody {
		return staticPage{}, fmt.Errorf("static fetch %s: no response received", rawURL)
	}
	return page, nil
}
