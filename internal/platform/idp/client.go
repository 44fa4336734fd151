// Package idp is the typed HTTP client for the external identity provider.
// Two profiles share one transport: organization (staff B2B) sessions and
// consumer (patient) sessions. Every call is time-boxed and cancellable, and
// every response body is validated against an explicit schema before any
// field is trusted.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// DefaultTimeout bounds every provider call unless the caller's context
// carries an earlier deadline.
const DefaultTimeout = 10 * time.Second

// Config carries the provider credentials. Passed in at construction so tests
// inject fixtures without touching process environment.
type Config struct {
	BaseURL   string
	ProjectID string
	Secret    string
	Env       string // "test" or "live"
	JWKSURL   string // optional; enables local staff JWT verification
	Timeout   time.Duration
}

// Client talks to the identity provider. Safe for concurrent use.
type Client struct {
	cfg     Config
	httpc   *http.Client
	jwks    *jwksCache
	logger  zerolog.Logger
	metrics RequestObserver
}

// RequestObserver receives per-request latency observations. Nil-safe via
// nopObserver.
type RequestObserver interface {
	ObserveProviderRequest(endpoint string, status int, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderRequest(string, int, time.Duration) {}

func NewClient(cfg Config, logger zerolog.Logger, obs RequestObserver) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if obs == nil {
		obs = nopObserver{}
	}
	c := &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: obs,
	}
	if cfg.JWKSURL != "" {
		c.jwks = newJWKSCache(cfg.JWKSURL, 5*time.Minute)
	}
	return c
}

// providerError is the provider's error envelope.
type providerError struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
}

// validatable is implemented by every response type; Validate returns an
// error when the response shape does not match the contract.
type validatable interface {
	Validate() error
}

// do issues one provider call and decodes the response into out, classifying
// every failure mode: caller cancellation wins over everything, client-side
// deadline becomes ProviderTimeout, transport failure ProviderUnreachable,
// auth-shaped rejections AuthInvalid, other non-2xx ProviderError, and a
// schema mismatch ContractViolation.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	start := time.Now()

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ProjectID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.metrics.ObserveProviderRequest(path, 0, time.Since(start))
		// Caller cancellation takes precedence over any synthetic reason.
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return apperr.Wrap(apperr.KindProviderTimeout, "identity provider timed out", err)
		}
		return apperr.Wrap(apperr.KindProviderUnreachable, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	c.metrics.ObserveProviderRequest(path, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Wrap(apperr.KindProviderUnreachable, "read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classifyFailure(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindContractViolation, "identity provider returned an unexpected response", err)
	}
	if v, ok := out.(validatable); ok {
		if err := v.Validate(); err != nil {
			return apperr.Wrap(apperr.KindContractViolation, "identity provider returned an unexpected response", err)
		}
	}
	return nil
}

// authErrorTypes are provider error codes that mean the presented credential
// is bad, as opposed to the provider being broken.
var authErrorTypes = map[string]bool{
	"session_not_found":     true,
	"session_expired":       true,
	"session_revoked":       true,
	"invalid_session_token": true,
	"unauthorized":          true,
	"unable_to_auth":        true,
}

func (c *Client) classifyFailure(status int, raw []byte) error {
	var pe providerError
	_ = json.Unmarshal(raw, &pe)

	switch {
	case pe.ErrorType == "duplicate_member_email":
		return apperr.Wrap(apperr.KindDuplicateMember, "email already belongs to the organization",
			fmt.Errorf("provider status %d: %s", status, pe.ErrorType))
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		authErrorTypes[pe.ErrorType]:
		return apperr.Wrap(apperr.KindAuthInvalid, "session is invalid or expired",
			fmt.Errorf("provider status %d: %s", status, pe.ErrorType))
	default:
		c.logger.Warn().Int("status", status).Str("error_type", pe.ErrorType).
			Msg("identity provider call failed")
		return apperr.Wrap(apperr.KindProviderError, "identity provider request failed",
			fmt.Errorf("provider status %d: %s", status, pe.ErrorType))
	}
}

func isClientTimeout(err error) bool {
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}
