package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/capture"
)

// Renderer is the headless escalation path; *capture.Capturer satisfies it.
type Renderer interface {
	RenderHTML(ctx context.Context, rawURL string) (capture.Page, error)
}

// Fetcher is the static first-pass fetch; *StaticFetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (staticPage, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// Auditor runs the two-phase fetch and extraction pipeline.
type Auditor struct {
	fetcher  Fetcher
	detector *Detector
	renderer Renderer
	clock    Clock
	logger   *zap.Logger
}

// NewAuditor wires the pipeline. renderer may be nil, in which case pages
// that would need rendering are audited from their static HTML anyway.
func NewAuditor(fetcher Fetcher, detector *Detector, renderer Renderer, clock Clock, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		fetcher:  fetcher,
		detector: detector,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
	}
}

// Run audits one URL and returns the report.
func (a *Auditor) Run(ctx context.Context, rawURL string) (Report, error) {
	page, err := a.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Report{}, err
	}

	html := page.Body
	finalURL := page.FinalURL
	statusCode := page.StatusCode
	mode := FetchStatic

	if a.detector.ShouldRender(page.StatusCode, page.Body) {
		if a.renderer == nil {
			a.logger.Warn("page looks script-rendered but no renderer is configured",
				zap.String("url", rawURL))
		} else {
			rendered, renderErr := a.renderer.RenderHTML(ctx, rawURL)
			if renderErr != nil {
				return Report{}, fmt.Errorf("headless render: %w", renderErr)
			}
			html = []byte(rendered.HTML)
			finalURL = rendered.FinalURL
			if rendered.StatusCode != 0 {
				statusCode = rendered.StatusCode
			}
			mode = FetchHeadless
		}
	}

	title, headings, textLength, images, err := Extract(html)
	if err != nil {
		return Report{}, err
	}

	missingAlt := 0
	for _, img := range images {
		if img.AltMissing {
			missingAlt++
		}
	}

	return Report{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  statusCode,
		FetchedWith: mode,
		Title:       title,
		Headings:    headings,
		TextLength:  textLength,
		Images:      images,
		MissingAlt:  missingAlt,
		FetchedAt:   a.clock.Now(),
	}, nil
}
