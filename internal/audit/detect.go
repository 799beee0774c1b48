package audit

import (
	"strings"
)

// Detector decides whether a static fetch is good enough or the page must be
// rendered with a headless browser.
type Detector struct {
	// MinHTMLBytes is the size under which script-heavy pages are promoted.
	MinHTMLBytes int
	// RenderKeywords are framework markers whose presence forces a render.
	RenderKeywords []string
}

// NewDetector builds a Detector with sane fallbacks.
func NewDetector(minHTMLBytes int, keywords []string) *Detector {
	if minHTMLBytes <= 0 {
		minHTMLBytes = 2048
	}
	if len(keywords) == 0 {
		keywords = []string{"__NEXT_DATA__", "data-reactroot", "ng-app"}
	}
	return &Detector{MinHTMLBytes: minHTMLBytes, RenderKeywords: keywords}
}

// ShouldRender reports whether the static HTML needs headless promotion.
// Non-200 responses are never promoted; rendering would see the same error.
func (d *Detector) ShouldRender(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < d.MinHTMLBytes && scriptDensityHigh(body) {
		return true
	}
	lower := strings.ToLower(string(body))
	for _, keyword := range d.RenderKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter of
// the document, tolerating unterminated tags.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
