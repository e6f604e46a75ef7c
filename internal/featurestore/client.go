// Package featurestore talks to an ArcGIS-style feature service: token issuance,
// CSV upload, append/upsert and delete-by-predicate.
package featurestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the endpoints and client credentials.
type Config struct {
	OAuth2URL         string
	ClientID          string
	ClientSecret      string
	ExpirationMinutes int
	FeatureServerURL  string
	LayerID           int
}

// Client is a feature service client. It keeps no per-run state; tokens are passed
// explicitly to every call.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client. A nil httpClient falls back to http.DefaultClient.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.ExpirationMinutes <= 0 {
		cfg.ExpirationMinutes = 1440
	}
	cfg.FeatureServerURL = strings.TrimRight(cfg.FeatureServerURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// UploadURL is the staging endpoint.
func (c *Client) UploadURL() string { return c.cfg.FeatureServerURL + "/uploads/upload" }

// AppendURL is the layer's append endpoint.
func (c *Client) AppendURL() string {
	return fmt.Sprintf("%s/%d/append", c.cfg.FeatureServerURL, c.cfg.LayerID)
}

// DeleteURL is the layer's delete-by-predicate endpoint.
func (c *Client) DeleteURL() string {
	return fmt.Sprintf("%s/%d/deleteFeatures", c.cfg.FeatureServerURL, c.cfg.LayerID)
}

type formField struct {
	name  string
	value string
}

type formFile struct {
	field string
	path  string
}

// postMultipart sends fields (and optionally one file) as multipart/form-data and
// returns the raw response body.
func (c *Client) postMultipart(ctx context.Context, endpoint string, fields []formField, file *formFile) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != nil {
		f, err := os.Open(file.path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", file.path, err)
		}
		part, err := w.CreateFormFile(file.field, filepath.Base(file.path))
		if err != nil {
			f.Close()
			return nil, err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", file.path, err)
		}
	}
	for _, fld := range fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return body, fmt.Errorf("%s: status %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// envelope captures the fields shared by every feature service response.
type envelope struct {
	Error *ServiceError `json:"error"`
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
