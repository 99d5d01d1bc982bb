package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"cbtquiz/internal/catalog"
	"cbtquiz/internal/report"
	"cbtquiz/internal/submission"
)

var (
	ErrCatalogUnavailable  = errors.New("catalog unavailable")
	ErrSubmissionTransport = errors.New("submission transport failed")
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient is the base transport; bearer auth is layered on top.
	HTTPClient *http.Client
}

// Client talks to the test-definition and grading services.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend base url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", raw)
	}
	h := cfg.HTTPClient
	if h == nil {
		h = &http.Client{}
	}
	return &Client{base: u, http: h, timeout: cfg.Timeout}, nil
}

func (c *Client) client(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	if ts == nil {
		return c.http
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	h := oauth2.NewClient(ctx, ts)
	if c.timeout > 0 {
		h.Timeout = c.timeout
	}
	return h
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) FetchCatalog(ctx context.Context, ts oauth2.TokenSource, testID int64) (*catalog.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/theme-test/"+strconv.FormatInt(testID, 10), nil), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrCatalogUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client(ctx, ts).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: fetch test %d: %s", ErrCatalogUnavailable, testID, res.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrCatalogUnavailable, err)
	}
	return catalog.Decode(raw, testID)
}

// Submit posts the answers for grading. Every failure wraps
// ErrSubmissionTransport and is safe to retry.
func (c *Client) Submit(ctx context.Context, ts oauth2.TokenSource, p submission.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrSubmissionTransport, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/test-results", nil), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrSubmissionTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client(ctx, ts).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmissionTransport, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%w: post test results: %s", ErrSubmissionTransport, res.Status)
	}
	return nil
}

func (c *Client) FetchResults(ctx context.Context, ts oauth2.TokenSource, userID string, themeID int64) ([]report.Document, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("themeId", strconv.FormatInt(themeID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/quiz-results", q), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", report.ErrResultUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client(ctx, ts).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", report.ErrResultUnavailable, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: fetch results: %s", report.ErrResultUnavailable, res.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", report.ErrResultUnavailable, err)
	}
	return report.DecodeDocuments(raw)
}
