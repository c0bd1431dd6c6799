package wp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/logging"
	"github.com/sethvargo/go-retry"
)

const (
	apiPrefix       = "/wp-json/wp/v2"
	headerIdemKey   = "X-Idempotency-Key"
	retryAttempts   = 3
	retryBaseDelay  = 300 * time.Millisecond
	requestTimeout  = 30 * time.Second
	DefaultPageSize = 100
)

// Client talks to a remote origin's REST API. It is safe for concurrent use;
// per-call credentials select the tenant.
type Client struct {
	httpClient *http.Client
	logger     logging.Logger
}

func NewClient(logger logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// statusError carries a non-2xx response through retry classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("origin returned %d: %s", e.code, e.body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func (c *Client) authorize(req *http.Request, creds *Credentials) error {
	switch creds.AuthMode {
	case AuthBasic:
		req.SetBasicAuth(creds.User, creds.Secret)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+creds.Secret)
	default:
		return fmt.Errorf("%w: %q", common.ErrUnsupportedAuth, creds.AuthMode)
	}
	return nil
}

// do runs one request with retries on transport errors, 5xx, and 429.
// Other 4xx responses fail immediately. The response body is fully read so
// the caller can decode it without touching the wire again.
func (c *Client) do(ctx context.Context, creds *Credentials, method, rawURL string, body []byte, idemKey string) ([]byte, int, error) {
	var respBody []byte
	var respCode int

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewFibonacci(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return err
		}
		if err := c.authorize(req, creds); err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set(headerIdemKey, idemKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn(ctx, "origin request failed, will retry", "url", rawURL, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode >= 400 {
			serr := &statusError{code: resp.StatusCode, body: truncate(string(data), 256)}
			if retryable(resp.StatusCode) {
				c.logger.Warn(ctx, "origin returned retryable status", "url", rawURL, "status", resp.StatusCode)
				return retry.RetryableError(serr)
			}
			respCode = resp.StatusCode
			return serr
		}

		respBody = data
		respCode = resp.StatusCode
		return nil
	})
	if err != nil {
		return nil, respCode, fmt.Errorf("%w: %s %s: %w", common.ErrUpstream, method, rawURL, err)
	}
	return respBody, respCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Client) resourceURL(creds *Credentials, res Resource) string {
	return creds.BaseURL + apiPrefix + "/" + string(res)
}

// ListPage fetches one page of a collection ordered by id. Page numbers start
// at 1. An empty slice signals the end of the collection.
func (c *Client) ListPage(ctx context.Context, creds *Credentials, res Resource, page, perPage int) ([]Item, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("orderby", "id")
	q.Set("order", "asc")
	return c.list(ctx, creds, res, q)
}

// ListModifiedSince fetches one page of items modified strictly after the
// given instant, ordered oldest-first so a watermark can advance as each item
// is handed off.
func (c *Client) ListModifiedSince(ctx context.Context, creds *Credentials, res Resource, after time.Time, page, perPage int) ([]Item, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("orderby", "modified")
	q.Set("order", "asc")
	q.Set("modified_after", after.UTC().Format(time.RFC3339))
	return c.list(ctx, creds, res, q)
}

func (c *Client) list(ctx context.Context, creds *Credentials, res Resource, q url.Values) ([]Item, error) {
	rawURL := c.resourceURL(creds, res) + "?" + q.Encode()
	body, code, err := c.do(ctx, creds, http.MethodGet, rawURL, nil, "")
	if err != nil {
		// Requesting a page past the end is an expected end-of-collection
		// signal, not a failure.
		if code == http.StatusBadRequest && q.Get("page") != "1" {
			return nil, nil
		}
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: decoding %s list: %w", common.ErrUpstream, res, err)
	}
	return items, nil
}

// Get fetches a single item. A 404 maps to common.ErrNotFound so callers can
// distinguish deletion from transport failure.
func (c *Client) Get(ctx context.Context, creds *Credentials, res Resource, id int64) (*Item, error) {
	rawURL := fmt.Sprintf("%s/%d", c.resourceURL(creds, res), id)
	body, code, err := c.do(ctx, creds, http.MethodGet, rawURL, nil, "")
	if err != nil {
		if code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %d", common.ErrNotFound, res, id)
		}
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("%w: decoding %s %d: %w", common.ErrUpstream, res, id, err)
	}
	return &item, nil
}

// GetCustomFields fetches an item's custom-field map in one secondary call.
// Items without custom fields yield an empty map.
func (c *Client) GetCustomFields(ctx context.Context, creds *Credentials, res Resource, id int64) (map[string]any, error) {
	rawURL := fmt.Sprintf("%s/%d?_fields=acf", c.resourceURL(creds, res), id)
	body, code, err := c.do(ctx, creds, http.MethodGet, rawURL, nil, "")
	if err != nil {
		if code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %d", common.ErrNotFound, res, id)
		}
		return nil, err
	}

	var wrapper struct {
		ACF map[string]any `json:"acf"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: decoding %s %d fields: %w", common.ErrUpstream, res, id, err)
	}
	if wrapper.ACF == nil {
		wrapper.ACF = map[string]any{}
	}
	return wrapper.ACF, nil
}

// Create pushes a new item to the origin. The idempotency key lets the origin
// collapse retried creates into one item.
func (c *Client) Create(ctx context.Context, creds *Credentials, res Resource, payload *WritePayload, idemKey string) (*Item, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	respBody, _, err := c.do(ctx, creds, http.MethodPost, c.resourceURL(creds, res), body, idemKey)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(respBody, &item); err != nil {
		return nil, fmt.Errorf("%w: decoding created %s: %w", common.ErrUpstream, res, err)
	}
	return &item, nil
}

// Update pushes changed fields to an existing item.
func (c *Client) Update(ctx context.Context, creds *Credentials, res Resource, id int64, payload *WritePayload, idemKey string) (*Item, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	rawURL := fmt.Sprintf("%s/%d", c.resourceURL(creds, res), id)
	respBody, code, err := c.do(ctx, creds, http.MethodPost, rawURL, body, idemKey)
	if err != nil {
		if code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %d", common.ErrNotFound, res, id)
		}
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(respBody, &item); err != nil {
		return nil, fmt.Errorf("%w: decoding updated %s %d: %w", common.ErrUpstream, res, id, err)
	}
	return &item, nil
}
