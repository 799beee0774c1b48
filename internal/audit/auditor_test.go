package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemetrics/localpulse/internal/capture"
)

type stubFetcher struct {
	page staticPage
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) (staticPage, error) {
	return s.page, s.err
}

type stubRenderer struct {
	page   capture.Page
	err    error
	called bool
}

func (s *stubRenderer) RenderHTML(context.Context, string) (capture.Page, error) {
	s.called = true
	return s.page, s.err
}

type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

func staticHTML() []byte {
	return []byte(`<html><head><title>Cafe</title></head><body><h1>Cafe</h1><p>plain page with plenty of text to stay static</p></body></html>`)
}

func TestRunStaticPage(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{}
	a := NewAuditor(
		stubFetcher{page: staticPage{URL: "https://example.com", FinalURL: "https://example.com/", StatusCode: 200, Body: staticHTML()}},
		NewDetector(16, []string{"never"}),
		renderer,
		frozenClock{at: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)},
		nil,
	)

	report, err := a.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, FetchStatic, report.FetchedWith)
	assert.Equal(t, "Cafe", report.Title)
	assert.False(t, renderer.called)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), report.FetchedAt)
}

func TestRunEscalatesToHeadless(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{page: capture.Page{
		FinalURL:   "https://example.com/app",
		StatusCode: 200,
		HTML:       `<html><head><title>Rendered</title></head><body><h1>Rendered</h1><img src="a.png"></body></html>`,
	}}
	a := NewAuditor(
		stubFetcher{page: staticPage{StatusCode: 200, Body: []byte(`<div data-reactroot=""></div>`)}},
		NewDetector(2048, []string{"data-reactroot"}),
		renderer,
		frozenClock{at: time.Now()},
		nil,
	)

	report, err := a.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.True(t, renderer.called)
	assert.Equal(t, FetchHeadless, report.FetchedWith)
	assert.Equal(t, "Rendered", report.Title)
	assert.Equal(t, "https://example.com/app", report.FinalURL)
	assert.Equal(t, 1, report.MissingAlt)
}

func TestRunFallsBackWithoutRenderer(t *testing.T) {
	t.Parallel()

	a := NewAuditor(
		stubFetcher{page: staticPage{StatusCode: 200, Body: []byte(`<html><body><div data-reactroot=""><h1>Shell</h1></div></body></html>`)}},
		NewDetector(2048, []string{"data-reactroot"}),
		nil,
		frozenClock{at: time.Now()},
		nil,
	)

	report, err := a.Run(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, FetchStatic, report.FetchedWith)
	assert.Equal(t, []string{"Shell"}, report.Headings)
}

func TestRunPropagatesFetchError(t *testing.T) {
	t.Parallel()

	a := NewAuditor(stubFetcher{err: errors.New("dns failure")}, NewDetector(0, nil), nil, frozenClock{}, nil)
	_, err := a.Run(context.Background(), "https://example.com")
	require.Error(t, err)
}

func TestRunPropagatesRenderError(t *testing.T) {
	t.Parallel()

	renderer := &stubRenderer{err: errors.New("browser crashed")}
	a := NewAuditor(
		stubFetcher{page: staticPage{StatusCode: 200}},
		NewDetector(0, nil),
		renderer,
		frozenClock{},
		nil,
	)
	_, err := a.Run(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "headless render")
}
