// Package cowin is a client for the CoWIN public appointment calendar API.
package cowin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotwatch/internal/slots"
	logx "slotwatch/pkg/logx"
)

const (
	DefaultBaseURL = "https://cdn-api.co-vin.in/api"
	// The public CDN rejects requests without a browser-like agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/56.0.2924.76 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	// DateLayout is the dd-mm-yyyy layout the API expects.
	DateLayout = "02-01-2006"

	maxBodyBytes = 8 << 20
)

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client fetches per-location session calendars.
type Client struct {
	base *url.URL
	ua   string
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("cowin: invalid base url %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("cowin: base url %q must be http(s)", raw)
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		ua:   ua,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// calendarURL builds the calendarByPin / calendarByDistrict URL for key.
func (c *Client) calendarURL(kind slots.Kind, code string, date time.Time) (string, error) {
	q := url.Values{}
	var path string
	switch kind {
	case slots.KindPincode:
		path = "/v2/appointment/sessions/public/calendarByPin"
		q.Set("pincode", code)
	case slots.KindDistrict:
		path = "/v2/appointment/sessions/public/calendarByDistrict"
		q.Set("district_id", code)
	default:
		return "", fmt.Errorf("cowin: unsupported kind %v", kind)
	}
	q.Set("date", date.Format(DateLayout))

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch returns the centers with sessions for one pincode or district,
// starting at date. Non-2xx responses yield *StatusError, bodies that do
// not match the expected shape yield *ParseError.
func (c *Client) Fetch(ctx context.Context, kind slots.Kind, code string, date time.Time) ([]slots.Center, error) {
	u, err := c.calendarURL(kind, code, date)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("cowin: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cowin: fetch %s %s: %w", kind, code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{Code: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(snippet))}
	}

	centers, err := decodeCalendar(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	c.log.Debug("calendar fetched",
		logx.String("kind", kind.String()),
		logx.String("code", code),
		logx.Int("centers", len(centers)),
		logx.Duration("took", time.Since(start)),
	)
	return centers, nil
}
