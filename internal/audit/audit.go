// Package audit fetches a business listing page, escalating to headless
// rendering when the static HTML looks script-driven, and extracts the
// content signals (title, headings, text volume, image metadata) that feed
// listing health reports.
package audit

import "time"

// FetchMode records which pipeline produced the audited HTML.
type FetchMode string

// Fetch modes reported in audit output.
const (
	FetchStatic   FetchMode = "static"
	FetchHeadless FetchMode = "headless"
)

// ImageInfo describes one img element on the audited page.
type ImageInfo struct {
	Src    string `json:"src"`
	Alt    string `json:"alt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// AltMissing flags images without alt text, a common listing defect.
	AltMissing bool `json:"alt_missing"`
}

// Report is the JSON document produced by one audit.
type Report struct {
	URL         string      `json:"url"`
	FinalURL    string      `json:"final_url"`
	StatusCode  int         `json:"status_code"`
	FetchedWith FetchMode   `json:"fetched_with"`
	Title       string      `json:"title"`
	Headings    []string    `json:"headings"`
	TextLength  int         `json:"text_length"`
	Images      []ImageInfo `json:"images"`
	MissingAlt  int         `json:"missing_alt"`
	FetchedAt   time.Time   `json:"fetched_at"`
}
