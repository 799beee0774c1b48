// Package gbp talks to the Google Business Profile APIs: OAuth consent and
// token exchange plus the daily performance and review endpoints.
package gbp

import "time"

// Token is the OAuth token material returned by the token endpoint.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// DailyMetric is one (day, metric) performance datapoint for a location.
type DailyMetric struct {
	Day    time.Time
	Metric string
	Value  float64
}

// Review is a customer review attached to a location.
type Review struct {
	GoogleID  string
	Rating    int
	Comment   string
	Author    string
	CreatedAt time.Time
}
