package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/routeflow/fleet-tracker/internal/normalize"
)

// ErrorKind classifies fetch failures for retry decisions.
type ErrorKind int

const (
	// KindTransient marks network errors and retryable HTTP statuses.
	KindTransient ErrorKind = iota
	// KindPermanent marks non-retryable HTTP statuses.
	KindPermanent
	// KindDecode marks malformed upstream payloads.
	KindDecode
)

// FetchError wraps an upstream failure with its retry classification.
type FetchError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream HTTP %d: %v", e.Status, e.Err)
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	return false
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client queries the arrivals API for active lines and per-line arrivals.
type Client struct {
	baseURL    string
	appKey     string
	httpClient *http.Client
}

func NewClient(baseURL, appKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		appKey:     appKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type lineDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListActiveLines returns all active bus line identifiers, deduplicated
// case-insensitively.
func (c *Client) ListActiveLines(ctx context.Context) ([]string, error) {
	var lines []lineDescriptor
	if err := c.getJSON(ctx, c.buildURL("/Line/Mode/bus/Route"), &lines); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ID != "" {
			ids = append(ids, line.ID)
		}
	}
	return normalize.DedupeLines(ids), nil
}

// FetchArrivals returns the raw arrival payloads for one line. Payloads are
// kept as decoded maps so the accessor tables own field interpretation.
func (c *Client) FetchArrivals(ctx context.Context, line string) ([]map[string]any, error) {
	var arrivals []map[string]any
	endpoint := c.buildURL("/Line/" + url.PathEscape(line) + "/Arrivals")
	if err := c.getJSON(ctx, endpoint, &arrivals); err != nil {
		return nil, err
	}
	return arrivals, nil
}

func (c *Client) buildURL(path string) string {
	endpoint := c.baseURL + path
	if c.appKey != "" {
		endpoint += "?app_key=" + url.QueryEscape(c.appKey)
	}
	return endpoint
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &FetchError{Kind: KindPermanent, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := KindPermanent
		if retryableStatus(resp.StatusCode) {
			kind = KindTransient
		}
		return &FetchError{Kind: kind, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status from %s", endpoint)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &FetchError{Kind: KindDecode, Err: fmt.Errorf("failed to decode payload: %w", err)}
	}
	return nil
}
