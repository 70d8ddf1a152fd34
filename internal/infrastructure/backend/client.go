package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"go.uber.org/zap"
)

const (
	pathReceipts    = "/v1/receipts"
	pathSubscribers = "/v1/subscribers/"
	pathMapping     = "/v1/product_entitlement_mapping"

	maxResponseBytes = 10 << 20
)

// ErrMissingAppUserID is returned when a per-user endpoint is called without a user
var ErrMissingAppUserID = errors.New("backend: missing app user id")

// Client talks to the entitlement backend over HTTP
type Client struct {
	config     Config
	httpClient *http.Client
	verifier   ResponseVerifier
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithVerifier replaces the default HeaderVerifier
func WithVerifier(v ResponseVerifier) Option {
	return func(c *Client) {
		if v != nil {
			c.verifier = v
		}
	}
}

// NewClient creates a backend client
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		verifier:   NewHeaderVerifier(cfg.VerificationHeader),
		logger:     logger.Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PostReceipt posts a transaction receipt and returns the resulting CustomerInfo
func (c *Client) PostReceipt(ctx context.Context, post purchase.ReceiptPost) (purchase.CustomerInfoResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, pathReceipts, post)
	if err != nil {
		return purchase.CustomerInfoResponse{}, err
	}
	return c.decodeCustomerInfo(resp, post.AppUserID)
}

// GetCustomerInfo fetches the authoritative CustomerInfo for appUserID
func (c *Client) GetCustomerInfo(ctx context.Context, appUserID string) (purchase.CustomerInfoResponse, error) {
	if appUserID == "" {
		return purchase.CustomerInfoResponse{}, ErrMissingAppUserID
	}
	resp, err := c.doRequest(ctx, http.MethodGet, pathSubscribers+url.PathEscape(appUserID), nil)
	if err != nil {
		return purchase.CustomerInfoResponse{}, err
	}
	return c.decodeCustomerInfo(resp, appUserID)
}

// GetProductEntitlementMapping fetches the product to entitlement mapping
func (c *Client) GetProductEntitlementMapping(ctx context.Context) (entitlement.Mapping, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, pathMapping, nil)
	if err != nil {
		return entitlement.Mapping{}, err
	}
	var env mappingEnvelope
	if err := resp.decode(&env); err != nil {
		return entitlement.Mapping{}, err
	}
	return env.mapping(), nil
}

// PostSubscriberAttributes uploads attrs for appUserID. Per-attribute
// rejections are returned both on success and inside a BackendError.
func (c *Client) PostSubscriberAttributes(ctx context.Context, appUserID string, attrs attribute.Set) ([]attribute.Error, error) {
	if appUserID == "" {
		return nil, ErrMissingAppUserID
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	path := pathSubscribers + url.PathEscape(appUserID) + "/attributes"
	resp, err := c.doRequest(ctx, http.MethodPost, path, newAttributesRequest(attrs))
	if err != nil {
		var be *purchase.BackendError
		if errors.As(err, &be) {
			return be.AttributeErrors, err
		}
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, nil
	}
	var out attributesResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	return out.AttributeErrors, nil
}

type response struct {
	status       int
	body         []byte
	verification customer.VerificationResult
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return &purchase.BackendError{
			Kind:       purchase.KindDecoding,
			StatusCode: r.status,
			Message:    "failed to decode response",
			Cause:      err,
		}
	}
	return nil
}

func (c *Client) decodeCustomerInfo(resp *response, appUserID string) (purchase.CustomerInfoResponse, error) {
	var env subscriberEnvelope
	if err := resp.decode(&env); err != nil {
		return purchase.CustomerInfoResponse{}, err
	}
	return purchase.CustomerInfoResponse{
		Info:            env.customerInfo(appUserID, resp.verification),
		AttributeErrors: env.AttributeErrors,
	}, nil
}

// doRequest performs an HTTP request and classifies every failure as a BackendError
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (*response, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("backend: failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(ctx, method, path, err)
	}

	c.logger.Debug("Backend request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	out := &response{status: resp.StatusCode, body: body, verification: customer.VerificationNotRequested}
	if c.config.VerificationMode == VerificationDisabled {
		return out, nil
	}
	out.verification = c.verifier.Verify(resp.Header, body)
	if out.verification == customer.VerificationFailed {
		if c.config.VerificationMode == VerificationEnforced {
			return nil, &purchase.BackendError{
				Kind:       purchase.KindSignatureVerification,
				StatusCode: resp.StatusCode,
				Message:    "response signature verification failed",
			}
		}
		c.logger.Warn("Response failed signature verification",
			zap.String("path", path),
			zap.String("mode", string(c.config.VerificationMode)),
		)
	}
	return out, nil
}

// transportError classifies a failure that produced no HTTP response.
// Cancellation by the caller is returned as is since it says nothing about the backend.
func (c *Client) transportError(ctx context.Context, method, path string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	kind := purchase.KindTransport
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = purchase.KindTimeout
	case errors.As(err, &dnsErr), errors.As(err, &opErr) && opErr.Op == "dial":
		kind = purchase.KindOffline
	}
	c.logger.Debug("Backend unreachable",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return &purchase.BackendError{Kind: kind, Message: err.Error(), Cause: err}
}

func errorFromResponse(status int, body []byte) *purchase.BackendError {
	be := &purchase.BackendError{
		Kind:       purchase.KindErrorResponse,
		StatusCode: status,
		Finishable: purchase.IsFinishableStatus(status),
	}
	switch {
	case status >= 500:
		be.Kind = purchase.KindServerDown
	case status == http.StatusNotFound:
		be.Kind = purchase.KindNotFound
	}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		be.BackendCode = eb.Code
		be.Message = eb.Message
		be.AttributeErrors = eb.AttributeErrors
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

var _ purchase.Backend = (*Client)(nil)
