package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"supplybot/internal/domain"
	"supplybot/internal/httpx"
	"supplybot/internal/logx"
	"supplybot/internal/retry"
)

const maxErrorBody = 400

// APIError is a rejection returned by the inventory service. Body is kept
// (truncated) so the failure can be surfaced verbatim.
type APIError struct {
	Method string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inventory %s returned %d: %s", e.Method, e.Status, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.Status }

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Options struct {
	BaseURL          string
	Token            string
	SuppliersMethods []string
	ProductsMethod   string
	CreateMethods    []string
	StorageID        string
	RatePerSecond    float64
	HTTPClient       *http.Client
	Policy           retry.Policy
	Logger           logrus.FieldLogger
}

// Client talks to a Poster-style inventory API: every call is
// {base}/{method}?token=...&format=json and the payload sits under
// "response".
type Client struct {
	base             string
	token            string
	suppliersMethods []string
	productsMethod   string
	createMethods    []string
	storageID        string
	http             *http.Client
	limiter          *rate.Limiter
	policy           retry.Policy
	logger           logrus.FieldLogger
}

func NewClient(opts Options) *Client {
	c := &Client{
		base:             strings.TrimRight(opts.BaseURL, "/"),
		token:            opts.Token,
		suppliersMethods: opts.SuppliersMethods,
		productsMethod:   opts.ProductsMethod,
		createMethods:    opts.CreateMethods,
		storageID:        strings.TrimSpace(opts.StorageID),
		http:             opts.HTTPClient,
		policy:           opts.Policy,
		logger:           opts.Logger,
	}
	if c.http == nil {
		c.http = httpx.ExternalHTTPClient()
	}
	if c.logger == nil {
		c.logger = logx.Logger()
	}
	if c.policy.Logger == nil {
		c.policy.Logger = c.logger
	}
	if c.productsMethod == "" {
		c.productsMethod = "menu.getProducts"
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    json.RawMessage `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, payload any, idempotencyKey string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("token", c.token)
	q.Set("format", "json")
	apiURL := fmt.Sprintf("%s/%s?%s", c.base, method, q.Encode())

	httpMethod := http.MethodGet
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("marshal %s payload: %w", method, err))
		}
		httpMethod = http.MethodPost
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, apiURL, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Method: method, Status: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, retry.Permanent(fmt.Errorf("parsing %s response: %w", method, err))
	}
	if len(env.Error) > 0 && string(env.Error) != "null" {
		return nil, retry.Permanent(&APIError{Method: method, Status: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)})
	}
	if len(env.Response) == 0 {
		return raw, nil
	}
	return env.Response, nil
}

func (c *Client) callWithRetry(ctx context.Context, method string, params url.Values, payload any, idempotencyKey string) (json.RawMessage, error) {
	return retry.DoValue(ctx, c.policy, "inventory "+method, func(ctx context.Context) (json.RawMessage, error) {
		return c.call(ctx, method, params, payload, idempotencyKey)
	})
}

// ListSuppliers tries each configured method in order and returns the first
// non-empty list.
func (c *Client) ListSuppliers(ctx context.Context) ([]domain.CatalogEntry, error) {
	var lastErr error
	for _, method := range c.suppliersMethods {
		data, err := c.callWithRetry(ctx, method, nil, nil, "")
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			c.logger.WithField("method", method).Warnf("list suppliers failed: %v", err)
			continue
		}
		entries, err := decodeEntries(data, "suppliers", "contractors")
		if err != nil {
			lastErr = fmt.Errorf("decode %s: %w", method, err)
			continue
		}
		if len(entries) == 0 {
			lastErr = fmt.Errorf("empty suppliers response via %s", method)
			continue
		}
		c.logger.WithFields(logrus.Fields{"method": method, "count": len(entries)}).Info("suppliers fetched")
		return entries, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no supplier methods configured")
	}
	return nil, lastErr
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.CatalogEntry, error) {
	params := url.Values{}
	params.Set("with_barcode", "1")
	params.Set("with_sku", "1")
	data, err := c.callWithRetry(ctx, c.productsMethod, params, nil, "")
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(data, "products", "menu")
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.productsMethod, err)
	}
	c.logger.WithFields(logrus.Fields{"method": c.productsMethod, "count": len(entries)}).Info("products fetched")
	return entries, nil
}

// CreateSupply submits s and returns the id the service assigned. Fallback
// methods are tried only while the previous one answers 404.
func (c *Client) CreateSupply(ctx context.Context, s domain.Supply) (string, error) {
	var lastErr error
	for _, method := range c.createMethods {
		if method == "" {
			continue
		}
		var payload any
		if strings.HasPrefix(method, "storage.") {
			payload = c.storagePayload(s)
		} else {
			payload = genericPayload(s)
		}
		data, err := c.callWithRetry(ctx, method, nil, payload, s.IdempotencyKey)
		if err != nil {
			lastErr = err
			c.logger.WithField("method", method).Warnf("create supply failed: %v", err)
			if IsNotFound(err) {
				continue
			}
			break
		}
		id := supplyIDFrom(data)
		c.logger.WithFields(logrus.Fields{"method": method, "supply_id": id}).Info("supply created")
		return id, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no create methods configured")
	}
	return "", fmt.Errorf("create supply: %w", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
