package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPOption customizes the HTTP client.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = strings.TrimSpace(token)
	}
}

// HTTPClient is the JSON-over-HTTP implementation of Client.
//
// Endpoints:
//
//	POST /sagas/{id}/start
//	GET  /sagas/{id}/status
//	POST /sagas/{id}/signals
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client against the given base URL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("job service base url required", errors.CategoryBadInput)
	}
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *HTTPClient) Start(ctx context.Context, sagaID string, config map[string]any) (StartResult, error) {
	var out StartResult
	body := map[string]any{"sagaId": sagaID}
	if len(config) > 0 {
		body["config"] = config
	}
	err := c.do(ctx, http.MethodPost, c.sagaPath(sagaID, "start"), body, &out)
	return out, err
}

func (c *HTTPClient) Status(ctx context.Context, sagaID string) (StatusResult, error) {
	var out StatusResult
	err := c.do(ctx, http.MethodGet, c.sagaPath(sagaID, "status"), nil, &out)
	return out, err
}

func (c *HTTPClient) Signal(ctx context.Context, sagaID, signalType, decision string, data map[string]any) error {
	body := map[string]any{
		"signalType": signalType,
		"decision":   decision,
	}
	if len(data) > 0 {
		body["data"] = data
	}
	return c.do(ctx, http.MethodPost, c.sagaPath(sagaID, "signals"), body, nil)
}

func (c *HTTPClient) sagaPath(sagaID string, suffix string) string {
	return fmt.Sprintf("%s/sagas/%s/%s", c.baseURL, url.PathEscape(strings.TrimSpace(sagaID)), suffix)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CategoryBadInput, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "job service request failed").
			WithMetadata(map[string]any{"endpoint": endpoint})
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.New(
			fmt.Sprintf("job service returned %d", res.StatusCode),
			errors.CategoryExternal,
		).WithTextCode("SAGA_HTTP_STATUS").WithMetadata(map[string]any{
			"endpoint": endpoint,
			"status":   res.StatusCode,
			"body":     strings.TrimSpace(string(snippet)),
		})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "decode job service response").
			WithMetadata(map[string]any{"endpoint": endpoint})
	}
	return nil
}
