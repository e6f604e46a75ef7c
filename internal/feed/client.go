package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// FetchError is returned when the feed cannot be read or parsed.
type FetchError struct {
	FeedType   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s feed: unexpected status %d: %v", e.FeedType, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s feed: %v", e.FeedType, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client reads incident feeds from a fixed endpoint.
type Client struct {
	Endpoint string
	Headers  map[string]string
	Params   map[string]string
	HTTP     *http.Client
	Logger   *log.Logger
}

// NewClient builds a feed client. A nil httpClient falls back to http.DefaultClient.
func NewClient(endpoint string, headers, params map[string]string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{Endpoint: endpoint, Headers: headers, Params: params, HTTP: httpClient, Logger: logger}
}

// Fetch issues a single GET for feedType and parses the records collection.
func (c *Client) Fetch(ctx context.Context, feedType string) (Batch, error) {
	reqURL, err := c.requestURL(feedType)
	if err != nil {
		return Batch{}, &FetchError{FeedType: feedType, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Batch{}, &FetchError{FeedType: feedType, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Batch{}, &FetchError{FeedType: feedType, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Batch{}, &FetchError{FeedType: feedType, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return Batch{}, &FetchError{FeedType: feedType, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(body))}
	}

	batch, err := Parse(feedType, body)
	if err != nil {
		return Batch{}, &FetchError{FeedType: feedType, Err: err}
	}
	for _, r := range batch.Rejected {
		c.Logger.Printf("feed %s: rejected record #%d (%s)", feedType, r.Index, r.Reason)
	}
	return batch, nil
}

func (c *Client) requestURL(feedType string) (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid feed endpoint: %w", err)
	}
	q := u.Query()
	for k, v := range c.Params {
		q.Set(k, v)
	}
	q.Set("types", feedType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Parse decodes a feed document and extracts the collection named after feedType.
// A missing collection is an empty batch; records without a location are rejected
// individually.
func Parse(feedType string, body []byte) (Batch, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return Batch{}, fmt.Errorf("decode feed document: %w", err)
	}
	batch := Batch{FeedType: feedType}
	raw, ok := doc[feedType]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return batch, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return Batch{}, fmt.Errorf("decode %s collection: %w", feedType, err)
	}
	batch.Records = make([]Record, 0, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			batch.Rejected = append(batch.Rejected, Rejected{Index: i, Record: r, Reason: err.Error()})
			continue
		}
		batch.Records = append(batch.Records, r)
	}
	return batch, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
