// Package paypal implements the payment gateway port on top of the PayPal
// Orders v2 REST API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bistrohq/orders-api/internal/clock"
	"github.com/bistrohq/orders-api/internal/domain"
)

const (
	ProviderName = "paypal"

	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"

	debugIDHeader   = "PayPal-Debug-Id"
	requestIDHeader = "PayPal-Request-Id"

	// tokenSkew refreshes the access token this long before it expires.
	tokenSkew = time.Minute
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Retry        RetryConfig
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	retry        RetryConfig
	clock        clock.Clock
	logger       *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refresh   singleflight.Group
}

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   cfg.HTTPClient,
		retry:        cfg.Retry,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = SandboxBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = DefaultRetryConfig()
	}
	if c.clock == nil {
		c.clock = clock.NewSystem()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

func (c *Client) Name() string { return ProviderName }

// accessToken returns the cached bearer token, fetching a new one when it
// is missing or about to expire. Concurrent refreshes share one request.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.clock.Now().Before(c.expiresAt.Add(-tokenSkew)) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	ch := c.refresh.DoChan("token", func() (any, error) {
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return retryWithBackoff(ctx, c.retry, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
			strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			return "", fmt.Errorf("create token request: %w", err)
		}
		req.SetBasicAuth(c.clientID, c.clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		var tok tokenResponse
		if err := c.do(req, "fetch token", &tok); err != nil {
			return "", err
		}
		if tok.AccessToken == "" {
			return "", &domain.GatewayError{Provider: ProviderName, Op: "fetch token", StatusCode: http.StatusOK, Err: errors.New("empty access token")}
		}

		c.mu.Lock()
		c.token = tok.AccessToken
		c.expiresAt = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
}

// call performs one authenticated JSON request.
func (c *Client) call(ctx context.Context, method, path, op string, body any, headers map[string]string, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	err = c.do(req, op, out)
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	return err
}

// do sends req and decodes a 2xx body into out. Every failure is a
// *domain.GatewayError carrying the provider debug id when present.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: ProviderName, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	debugID := resp.Header.Get(debugIDHeader)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WarnContext(req.Context(), "paypal request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("debug_id", debugID),
		)
		return &domain.GatewayError{
			Provider:   ProviderName,
			Op:         op,
			StatusCode: resp.StatusCode,
			DebugID:    debugID,
			Err:        errors.New(apiErrorMessage(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{
			Provider:   ProviderName,
			Op:         op,
			StatusCode: resp.StatusCode,
			DebugID:    debugID,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if d, ok := out.(debugCarrier); ok {
		d.setDebugID(debugID)
	}
	return nil
}

type debugCarrier interface {
	setDebugID(string)
}

// apiErrorMessage extracts name and message from a PayPal error body.
func apiErrorMessage(raw []byte) string {
	var body struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		if len(raw) == 0 {
			return "empty error body"
		}
		return string(raw)
	}
	switch {
	case body.Name != "":
		return body.Name + ": " + body.Message
	case body.Error != "":
		return body.Error + ": " + body.ErrorDescription
	}
	return string(raw)
}
