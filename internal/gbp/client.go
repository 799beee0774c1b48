package gbp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/metrics"
)

// Options configures the Business Profile client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthBaseURL  string
	TokenURL     string
	APIBaseURL   string
	Scope        string
	Timeout      time.Duration
	MaxRetries   int
	Logger       *zap.Logger
}

// Client calls the Business Profile OAuth and data endpoints over HTTP.
type Client struct {
	opts Options
	http *resty.Client
}

// NewClient builds a Client with a shared resty transport. Retries apply to
// 429 and 5xx responses with resty's default exponential backoff.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	httpClient := resty.New()
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRetryCount(opts.MaxRetries)
	httpClient.SetRetryWaitTime(500 * time.Millisecond)
	httpClient.SetRetryMaxWaitTime(5 * time.Second)
	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})

	return &Client{opts: opts, http: httpClient}
}

// ConsentURL builds the Google consent page URL carrying the given state
// token. The state must be verified when the callback comes back.
func (c *Client) ConsentURL(state string) (string, error) {
	endpoint, err := url.Parse(c.opts.AuthBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse auth base url: %w", err)
	}
	if state == "" {
		return "", fmt.Errorf("consent state is required")
	}

	values := endpoint.Query()
	values.Set("client_id", c.opts.ClientID)
	values.Set("redirect_uri", c.opts.RedirectURL)
	values.Set("scope", c.opts.Scope)
	values.Set("response_type", "code")
	values.Set("access_type", "offline")
	values.Set("prompt", "consent")
	values.Set("state", state)
	endpoint.RawQuery = values.Encode()

	return endpoint.String(), nil
}

// ExchangeCode swaps an authorization code for an access and refresh token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)
	form.Set("redirect_uri", c.opts.RedirectURL)

	var token Token
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		SetResult(&token).
		Post(c.opts.TokenURL)
	metrics.ObserveGBPRequest("token_exchange", statusOf(res, err))
	if err != nil {
		return Token{}, fmt.Errorf("exchange code: %w", err)
	}
	if res.IsError() {
		return Token{}, fmt.Errorf("exchange code: token endpoint returned %d", res.StatusCode())
	}
	if token.AccessToken == "" {
		return Token{}, fmt.Errorf("exchange code: empty access token in response")
	}
	return token, nil
}

// Refresh obtains a fresh access token from a stored refresh token. Google
// omits the refresh token from refresh responses, so the original is retained.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, fmt.Errorf("refresh: no refresh token on record")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.opts.ClientID)
	form.Set("client_secret", c.opts.ClientSecret)

	var token Token
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		SetResult(&token).
		Post(c.opts.TokenURL)
	metrics.ObserveGBPRequest("token_refresh", statusOf(res, err))
	if err != nil {
		return Token{}, fmt.Errorf("refresh token: %w", err)
	}
	if res.IsError() {
		return Token{}, fmt.Errorf("refresh token: token endpoint returned %d", res.StatusCode())
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

type dailyMetricsResponse struct {
	TimeSeries []struct {
		Metric string `json:"dailyMetric"`
		Points []struct {
			Date  apiDate `json:"date"`
			Value float64 `json:"value,string"`
		} `json:"datedValues"`
	} `json:"multiDailyMetricTimeSeries"`
}

type apiDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (d apiDate) time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// FetchDailyMetrics downloads the daily performance series for a location.
// googleName is the location resource name, e.g. "locations/123".
func (c *Client) FetchDailyMetrics(ctx context.Context, accessToken, googleName string, since time.Time) ([]DailyMetric, error) {
	var body dailyMetricsResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("dailyRange.start_date", since.Format("2006-01-02")).
		SetResult(&body).
		Get(fmt.Sprintf("%s/%s:fetchMultiDailyMetricsTimeSeries", c.opts.APIBaseURL, googleName))
	metrics.ObserveGBPRequest("daily_metrics", statusOf(res, err))
	if err != nil {
		return nil, fmt.Errorf("fetch daily metrics for %s: %w", googleName, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("fetch daily metrics for %s: api returned %d", googleName, res.StatusCode())
	}

	var rows []DailyMetric
	for _, series := range body.TimeSeries {
		for _, point := range series.Points {
			rows = append(rows, DailyMetric{
				Day:    point.Date.time(),
				Metric: series.Metric,
				Value:  point.Value,
			})
		}
	}
	return rows, nil
}

type reviewsResponse struct {
	Reviews []struct {
		ReviewID   string    `json:"reviewId"`
		StarRating string    `json:"starRating"`
		Comment    string    `json:"comment"`
		CreateTime time.Time `json:"createTime"`
		Reviewer   struct {
			DisplayName string `json:"displayName"`
		} `json:"reviewer"`
	} `json:"reviews"`
	NextPageToken string `json:"nextPageToken"`
}

var starRatings = map[string]int{
	"ONE":   1,
	"TWO":   2,
	"THREE": 3,
	"FOUR":  4,
	"FIVE":  5,
}

// FetchReviews downloads all reviews for a location, following pagination.
func (c *Client) FetchReviews(ctx context.Context, accessToken, googleName string) ([]Review, error) {
	var out []Review
	pageToken := ""
	for {
		var body reviewsResponse
		req := c.http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetResult(&body)
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}
		res, err := req.Get(fmt.Sprintf("%s/%s/reviews", c.opts.APIBaseURL, googleName))
		metrics.ObserveGBPRequest("reviews", statusOf(res, err))
		if err != nil {
			return nil, fmt.Errorf("fetch reviews for %s: %w", googleName, err)
		}
		if res.IsError() {
			return nil, fmt.Errorf("fetch reviews for %s: api returned %d", googleName, res.StatusCode())
		}

		for _, r := range body.Reviews {
			out = append(out, Review{
				GoogleID:  r.ReviewID,
				Rating:    starRatings[r.StarRating],
				Comment:   r.Comment,
				Author:    r.Reviewer.DisplayName,
				CreatedAt: r.CreateTime.UTC(),
			})
		}
		if body.NextPageToken == "" {
			return out, nil
		}
		pageToken = body.NextPageToken
	}
}

func statusOf(res *resty.Response, err error) int {
	if res != nil && res.RawResponse != nil {
		return res.StatusCode()
	}
	if err != nil {
		return 0
	}
	return 0
}
