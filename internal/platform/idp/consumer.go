package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// ConsumerClaims are the verified claims of a consumer (patient) session.
// The provider does not guarantee an email on session verification; callers
// needing one must go through FetchConsumerProfile.
type ConsumerClaims struct {
	ProviderUserID string
}

type consumerSessionResponse struct {
	UserID string `json:"user_id"`
}

func (r *consumerSessionResponse) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("missing user_id")
	}
	return nil
}

// VerifyConsumerSession turns an opaque consumer session token into verified
// claims.
func (c *Client) VerifyConsumerSession(ctx context.Context, token string) (*ConsumerClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.KindAuthInvalid, "missing session token")
	}

	var resp consumerSessionResponse
	err := c.do(ctx, http.MethodPost, "/consumer/sessions/authenticate",
		map[string]string{"session_token": token}, &resp)
	if err != nil {
		return nil, err
	}
	return &ConsumerClaims{ProviderUserID: resp.UserID}, nil
}

type consumerProfileResponse struct {
	Emails []struct {
		Email    string `json:"email"`
		Verified bool   `json:"verified"`
		Primary  bool   `json:"primary"`
	} `json:"emails"`
}

func (r *consumerProfileResponse) Validate() error {
	for i, e := range r.Emails {
		if e.Email == "" {
			return fmt.Errorf("email %d missing address", i)
		}
	}
	return nil
}

// FetchConsumerProfile returns the consumer's email: the address flagged
// primary, else the first on file. NoEmailOnFile when the list is empty.
func (c *Client) FetchConsumerProfile(ctx context.Context, providerUserID string) (string, error) {
	if providerUserID == "" {
		return "", apperr.New(apperr.KindAuthInvalid, "missing provider user id")
	}

	var resp consumerProfileResponse
	path := fmt.Sprintf("/consumer/users/%s", url.PathEscape(providerUserID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}

	if len(resp.Emails) == 0 {
		return "", apperr.New(apperr.KindNoEmailOnFile, "no email address on file")
	}
	for _, e := range resp.Emails {
		if e.Primary {
			return strings.ToLower(strings.TrimSpace(e.Email)), nil
		}
	}
	return strings.ToLower(strings.TrimSpace(resp.Emails[0].Email)), nil
}
