// Package capture drives headless Chrome to screenshot dashboard and listing
// pages, storing the images in a blob store keyed by date and URL digest.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pulsemetrics/localpulse/internal/blob"
	sha256hash "github.com/pulsemetrics/localpulse/internal/hash/sha256"
	"github.com/pulsemetrics/localpulse/internal/metrics"
)

// ErrCapturerClosed indicates the capturer has been shut down.
var ErrCapturerClosed = errors.New("capturer closed")

// consentClickTimeout bounds the best-effort cookie banner dismissal so a
// missing banner never stalls the capture.
const consentClickTimeout = 3 * time.Second

// Config controls the screenshot pipeline.
type Config struct {
	// ReadySelector is the element whose visibility marks the page as loaded.
	ReadySelector string
	// ConsentSelector, when set, is clicked before the screenshot to dismiss
	// cookie banners. A missing element is not an error.
	ConsentSelector string
	// NavTimeout bounds one navigation plus screenshot.
	NavTimeout time.Duration
	// MaxParallel caps concurrent browser tabs.
	MaxParallel int
	// HostQPS throttles captures per target host.
	HostQPS float64
	// UserAgent overrides the browser user agent.
	UserAgent string
	// FullPage captures the entire scroll height instead of the viewport.
	FullPage bool
	// Prefix namespaces object keys in the blob store.
	Prefix string
}

// Result describes one stored screenshot.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	// URI locates the stored image (file://, gs:// or memory://).
	URI   string
	Bytes int
	Dur   time.Duration
}

// Capturer owns a shared headless browser and writes screenshots to a Store.
type Capturer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	store           blob.Store
	hasher          *sha256hash.Hasher
	logger          *zap.Logger
	cfg             Config
	sem             chan struct{}
	hostLimiters    sync.Map
	closed          bool
	mu              sync.Mutex
}

// New starts a headless browser and returns a Capturer ready for use.
func New(cfg Config, store blob.Store, logger *zap.Logger) (*Capturer, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.ReadySelector == "" {
		cfg.ReadySelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Capturer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		store:           store,
		hasher:          sha256hash.New(),
		logger:          logger,
		cfg:             cfg,
		sem:             make(chan struct{}, cfg.MaxParallel),
	}, nil
}

// Close tears down the browser and allocator.
func (c *Capturer) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.browserCancel()
	c.allocatorCancel()
	return nil
}

// Capture navigates to rawURL, waits for the ready selector, dismisses the
// cookie banner if one is configured, screenshots the page and stores it.
func (c *Capturer) Capture(ctx context.Context, rawURL string) (Result, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Result{}, ErrCapturerClosed
	}

	start := time.Now()
	res, err := c.capture(ctx, rawURL)
	dur := time.Since(start)
	res.Dur = dur
	if err != nil {
		metrics.ObserveCapture("error", dur)
		return res, err
	}
	metrics.ObserveCapture("success", dur)
	return res, nil
}

func (c *Capturer) capture(ctx context.Context, rawURL string) (Result, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := c.waitHostBudget(ctx, rawURL); err != nil {
		return Result{}, fmt.Errorf("capture rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	c.recordResponse(tabCtx, meta)

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitVisible(c.cfg.ReadySelector, chromedp.ByQuery),
	}
	if c.cfg.UserAgent != "" {
		tasks = append(chromedp.Tasks{emulation.SetUserAgentOverride(c.cfg.UserAgent)}, tasks...)
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Result{}, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	c.dismissConsent(taskCtx, rawURL)

	var shot []byte
	var shotTask chromedp.Action
	if c.cfg.FullPage {
		shotTask = chromedp.FullScreenshot(&shot, 90)
	} else {
		shotTask = chromedp.CaptureScreenshot(&shot)
	}
	if err := chromedp.Run(taskCtx, shotTask); err != nil {
		return Result{}, fmt.Errorf("screenshot %s: %w", rawURL, err)
	}

	key, err := c.objectKey(rawURL, time.Now().UTC())
	if err != nil {
		return Result{}, err
	}
	uri, err := c.store.PutObject(ctx, key, "image/png", bytes.NewReader(shot))
	if err != nil {
		return Result{}, fmt.Errorf("store screenshot: %w", err)
	}

	return Result{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: meta.statusCode,
		URI:        uri,
		Bytes:      len(shot),
	}, nil
}

// Page is a rendered DOM snapshot used by the listing audit.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// RenderHTML navigates to rawURL in a fresh tab and returns the DOM after the
// ready selector becomes visible. It shares the capturer's slot and host rate
// budgets with screenshot traffic.
func (c *Capturer) RenderHTML(ctx context.Context, rawURL string) (Page, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Page{}, ErrCapturerClosed
	}

	release, err := c.acquireSlot(ctx)
	if err != nil {
		return Page{}, err
	}
	defer release()

	if err := c.waitHostBudget(ctx, rawURL); err != nil {
		return Page{}, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	c.recordResponse(tabCtx, meta)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitVisible(c.cfg.ReadySelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if c.cfg.UserAgent != "" {
		tasks = append(chromedp.Tasks{emulation.SetUserAgentOverride(c.cfg.UserAgent)}, tasks...)
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Page{}, fmt.Errorf("render %s: %w", rawURL, err)
	}

	return Page{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: meta.statusCode,
		HTML:       html,
	}, nil
}

// dismissConsent clicks the configured cookie banner selector. Failures are
// expected when no banner renders and are only logged at debug level.
func (c *Capturer) dismissConsent(taskCtx context.Context, rawURL string) {
	if c.cfg.ConsentSelector == "" {
		return
	}
	clickCtx, cancel := context.WithTimeout(taskCtx, consentClickTimeout)
	defer cancel()
	err := chromedp.Run(clickCtx,
		chromedp.Click(c.cfg.ConsentSelector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		c.logger.Debug("cookie banner not dismissed",
			zap.String("url", rawURL),
			zap.String("selector", c.cfg.ConsentSelector),
			zap.Error(err))
	}
}

func (c *Capturer) objectKey(rawURL string, now time.Time) (string, error) {
	digest, err := c.hasher.Hash([]byte(rawURL))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	key := fmt.Sprintf("%s/%s.png", now.Format("2006/01/02"), digest)
	if c.cfg.Prefix != "" {
		key = strings.TrimSuffix(c.cfg.Prefix, "/") + "/" + key
	}
	return key, nil
}

func (c *Capturer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire capture slot: %w", ctx.Err())
	}
}

func (c *Capturer) waitHostBudget(ctx context.Context, rawURL string) error {
	if c.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse capture url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := c.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	headers    http.Header
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: make(http.Header)}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (c *Capturer) recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
			for k, v := range resp.Response.Headers {
				meta.headers.Add(k, fmt.Sprint(v))
			}
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
