// Package mpesa is a thin Daraja (M-Pesa Express / STK Push) client.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/internal/apperr"
)

// Config holds the gateway credentials. All string fields except BaseURL are required.
type Config struct {
	Environment     Environment
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	InitiatorName   string
	CallbackBaseURL string
	// BaseURL overrides the environment host, used by tests.
	BaseURL string
	Timeout time.Duration
}

// TokenCache stores OAuth tokens between calls. Implementations must be safe for concurrent use.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

// Client talks to the Daraja API. Build one per process with NewClient and share it.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	cache   TokenCache
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

// WithTokenCache reuses tokens until shortly before expiry instead of
// authenticating on every call.
func WithTokenCache(c TokenCache) Option { return func(cl *Client) { cl.cache = c } }

func WithHTTPClient(h *http.Client) Option { return func(cl *Client) { cl.http = h } }

func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithClock fixes the clock used for request timestamps.
func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = cfg.Environment.BaseURL()
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Environment reports which network the client is bound to.
func (c *Client) Environment() Environment { return c.cfg.Environment }

// CallbackURL is the public URL handed to the gateway for async results.
func (c *Client) CallbackURL() string {
	return strings.TrimRight(c.cfg.CallbackBaseURL, "/") + CallbackPath
}

// AccessToken exchanges the consumer key/secret for a bearer token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	cacheKey := "mpesa:token:" + string(c.cfg.Environment) + ":" + c.cfg.ConsumerKey
	if c.cache != nil {
		if tok, ok := c.cache.Get(ctx, cacheKey); ok {
			return tok, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", apperr.Authentication("build token request", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Authentication("token request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("mpesa token request rejected", zap.Int("status", resp.StatusCode))
		return "", apperr.Authentication(fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", apperr.Authentication("decode token response", err)
	}
	if tr.AccessToken == "" {
		return "", apperr.Authentication("no access token returned", nil)
	}

	if c.cache != nil {
		ttl := 59 * time.Minute
		if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 120 {
			ttl = time.Duration(secs-60) * time.Second
		}
		c.cache.Set(ctx, cacheKey, tr.AccessToken, ttl)
	}
	return tr.AccessToken, nil
}

// STKPush sends a push payment prompt to req.Phone. Validation is the caller's job.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := Timestamp(c.now())
	env := stkPushEnvelope{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   transactionTypePayBill,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.CallbackURL(),
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var out STKPushResponse
	if err := c.post(ctx, stkPushPath, token, env, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return &out, apperr.Integration("mpesa stk push", fmt.Errorf("response code %s: %s", out.ResponseCode, out.ResponseDescription))
	}
	c.log.Info("mpesa stk push accepted",
		zap.String("checkout_request_id", out.CheckoutRequestID),
		zap.String("merchant_request_id", out.MerchantRequestID))
	return &out, nil
}

// QuerySTK asks the gateway for the outcome of a push request.
func (c *Client) QuerySTK(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	ts := Timestamp(c.now())
	env := stkQueryEnvelope{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	var out STKQueryResponse
	if err := c.post(ctx, stkQueryPath, token, env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Integration("mpesa "+path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		return apperr.Authentication("gateway rejected access token", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.ErrorCode != "" {
			return apperr.Integration("mpesa "+path, ae)
		}
		return apperr.Integration("mpesa "+path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Integration("mpesa "+path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
