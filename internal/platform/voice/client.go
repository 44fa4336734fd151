// Package voice is a thin typed wrapper over the voice-assistant
// provisioning API. It is an external collaborator of onboarding: newly
// provisioned organizations get an assistant, nothing more.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
)

const defaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client provisions voice assistants. Safe for concurrent use.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Enabled reports whether provisioning is configured. Organizations can be
// created without a voice backend; provisioning is then skipped.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

type provisionRequest struct {
	Name string `json:"name"`
}

type provisionResponse struct {
	ID string `json:"id"`
}

func (r *provisionResponse) Validate() error {
	if r.ID == "" {
		return errors.New("assistant response missing id")
	}
	return nil
}

// ProvisionAssistant creates a named assistant and returns its id.
func (c *Client) ProvisionAssistant(ctx context.Context, displayName string) (string, error) {
	payload, err := json.Marshal(provisionRequest{Name: displayName})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "encode assistant request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/assistant", bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "build assistant request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", apperr.Wrap(apperr.KindProviderTimeout, "voice api timed out", err)
		}
		return "", apperr.Wrap(apperr.KindProviderUnreachable, "voice api unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperr.Wrap(apperr.KindProviderUnreachable, "read voice api response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("voice api rejected provisioning")
		return "", apperr.New(apperr.KindProviderError, fmt.Sprintf("voice api returned status %d", resp.StatusCode))
	}

	var out provisionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.Wrap(apperr.KindContractViolation, "decode assistant response", err)
	}
	if err := out.Validate(); err != nil {
		return "", apperr.Wrap(apperr.KindContractViolation, "invalid assistant response", err)
	}
	return out.ID, nil
}
