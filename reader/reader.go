// Package reader queries the collection endpoint for crash reports and
// derives statistics from them.
//
// Every read is signed with the fixed message "read" rather than with the
// query itself, so a captured signature is valid for any query made with the
// same secret.
package reader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kinbiko/crashpipe"
	"github.com/kinbiko/crashpipe/stats"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	retryBaseDelay    = 200 * time.Millisecond
	retryMaxDelay     = 2 * time.Second

	// derivedQueryLimit is the page size used by RecentCrashes,
	// CrashesByError and CrashStats.
	derivedQueryLimit = 100
)

// Config configures a Client.
type Config struct {
	Endpoint string // Required.
	Secret   string // Required.
	AppName  string // Required. Sent as X-App-Name.

	// Optional. Sent as X-App-Version, and used as the version filter unless
	// a query sets one.
	AppVersion string

	// Optional. Defaults to 30 seconds per request, retries included.
	Timeout time.Duration
	// Optional. Retries of a read after a temporary network error or a
	// 502/503/504 response. Defaults to 2; set to a negative value to disable.
	MaxRetries int

	// Optional. Its Transport is wrapped with the retry logic.
	HTTPClient *http.Client

	// Optional. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Client reads crash reports. It holds no mutable state and is safe for
// concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// Page is a single response of the read endpoint.
type Page struct {
	Success    bool                    `json:"success"`
	Data       []crashpipe.CrashReport `json:"data"`
	Pagination Pagination              `json:"pagination"`
}

// Pagination describes where a Page sits in the full result set. Endpoints
// may omit any of these.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) { //nolint:gocritic // Config is treated as immutable
	if cfg.Endpoint == "" {
		return nil, &crashpipe.ValidationError{Field: "Endpoint", Reason: "must be present"}
	}
	if u, err := url.Parse(cfg.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &crashpipe.ValidationError{Field: "Endpoint", Reason: `must be a valid URL, got "` + cfg.Endpoint + `"`}
	}
	if cfg.Secret == "" {
		return nil, &crashpipe.ValidationError{Field: "Secret", Reason: "must be present"}
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		return nil, &crashpipe.ValidationError{Field: "AppName", Reason: "must be present"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger().WithField("app", cfg.AppName)
	}

	client := &http.Client{}
	if cfg.HTTPClient != nil {
		*client = *cfg.HTTPClient
	}
	if client.Timeout == 0 {
		client.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		transport := client.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		client.Transport = rehttp.NewTransport(transport,
			rehttp.RetryAll(
				rehttp.RetryMaxRetries(cfg.MaxRetries),
				rehttp.RetryHTTPMethods(http.MethodGet),
				rehttp.RetryAny(
					rehttp.RetryTemporaryErr(),
					rehttp.RetryStatuses(http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout),
				),
			),
			rehttp.ExpJitterDelay(retryBaseDelay, retryMaxDelay),
		)
	}
	return &Client{cfg: cfg, client: client, now: time.Now}, nil
}

// ReadReports fetches a single page of crash reports. The filter is
// validated before anything is sent.
func (c *Client) ReadReports(ctx context.Context, opts ...FilterOption) (*Page, error) {
	f := c.defaultFilter()
	for _, opt := range opts {
		opt(&f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, &crashpipe.TransportError{Op: "read", Err: err}
	}
	endpoint.RawQuery = f.query().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &crashpipe.TransportError{Op: "read", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HMAC-Signature", crashpipe.SignatureHeader(c.cfg.Secret, []byte(crashpipe.ReadMessage)))
	req.Header.Set("X-App-Name", c.cfg.AppName)
	req.Header.Set("X-App-Version", c.cfg.AppVersion)

	c.cfg.Logger.WithField("query", endpoint.RawQuery).Debug("reading crash reports")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, &crashpipe.TransportError{Op: "read", Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &crashpipe.TransportError{Op: "read", StatusCode: res.StatusCode, Err: errors.Wrap(err, "unable to read response body")}
	}
	if res.StatusCode != http.StatusOK {
		return nil, &crashpipe.TransportError{Op: "read", StatusCode: res.StatusCode, Body: truncate(string(body), 512)}
	}

	page := &Page{}
	if err := json.Unmarshal(body, page); err != nil {
		return nil, errors.Wrap(err, "unable to decode crash reports")
	}
	return page, nil
}

// RecentCrashes returns up to 100 crashes from the last hours, rounded down
// to whole days with a minimum of one day.
func (c *Client) RecentCrashes(ctx context.Context, hours int) ([]crashpipe.CrashReport, error) {
	days := hours / 24
	if days < 1 {
		days = 1
	}
	page, err := c.successfulPage(ctx, WithDays(days), WithLimit(derivedQueryLimit))
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch recent crashes")
	}
	return page.Data, nil
}

// CrashesByError returns the crashes of the last days whose error message
// contains substr, ignoring case. Matching happens on the fetched page of up
// to 100 reports, not on the endpoint.
func (c *Client) CrashesByError(ctx context.Context, substr string, days int) ([]crashpipe.CrashReport, error) {
	page, err := c.successfulPage(ctx, WithDays(days), WithLimit(derivedQueryLimit))
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch crashes")
	}
	return FilterByError(page.Data, substr), nil
}

// CrashStats aggregates up to 100 of the most recent crashes of the last days.
func (c *Client) CrashStats(ctx context.Context, days int) (*stats.Result, error) {
	page, err := c.successfulPage(ctx, WithDays(days), WithLimit(derivedQueryLimit))
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch crash reports for statistics")
	}
	return stats.Aggregate(page.Data, c.now()), nil
}

// FilterByError keeps the reports whose error message contains substr,
// ignoring case.
func FilterByError(reports []crashpipe.CrashReport, substr string) []crashpipe.CrashReport {
	needle := strings.ToLower(substr)
	matches := []crashpipe.CrashReport{}
	for _, r := range reports {
		if r.ErrorMessage != "" && strings.Contains(strings.ToLower(r.ErrorMessage), needle) {
			matches = append(matches, r)
		}
	}
	return matches
}

func (c *Client) successfulPage(ctx context.Context, opts ...FilterOption) (*Page, error) {
	page, err := c.ReadReports(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if !page.Success {
		return nil, errors.New("endpoint reported an unsuccessful read")
	}
	return page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func itoa(i int) string { return strconv.Itoa(i) }
