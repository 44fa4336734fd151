package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// StaffClaims are the verified claims of an organization (B2B) session.
type StaffClaims struct {
	ProviderUserID   string
	ProviderMemberID string
	ProviderOrgID    string
	Email            string
}

type staffSessionResponse struct {
	UserID string `json:"user_id"`
	Member struct {
		MemberID       string `json:"member_id"`
		OrganizationID string `json:"organization_id"`
		EmailAddress   string `json:"email_address"`
	} `json:"member"`
}

func (r *staffSessionResponse) Validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("missing user_id")
	case r.Member.MemberID == "":
		return fmt.Errorf("missing member.member_id")
	case r.Member.OrganizationID == "":
		return fmt.Errorf("missing member.organization_id")
	case r.Member.EmailAddress == "":
		return fmt.Errorf("missing member.email_address")
	}
	return nil
}

// VerifyStaffSession turns an opaque staff session token into verified
// claims. When the token is a session JWT and a JWKS URL is configured, it is
// verified locally first; opaque tokens and any inconclusive local result go
// through the provider's authenticate endpoint.
func (c *Client) VerifyStaffSession(ctx context.Context, token string) (*StaffClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.KindAuthInvalid, "missing session token")
	}

	if c.jwks != nil && looksLikeJWT(token) {
		if claims, err := c.verifyStaffJWT(ctx, token); err == nil {
			return claims, nil
		}
		// Fall through: the provider remains the source of truth for
		// revocation and key rotation misses.
	}

	var resp staffSessionResponse
	err := c.do(ctx, http.MethodPost, "/b2b/sessions/authenticate",
		map[string]string{"session_token": token}, &resp)
	if err != nil {
		return nil, err
	}

	return &StaffClaims{
		ProviderUserID:   resp.UserID,
		ProviderMemberID: resp.Member.MemberID,
		ProviderOrgID:    resp.Member.OrganizationID,
		Email:            strings.ToLower(strings.TrimSpace(resp.Member.EmailAddress)),
	}, nil
}

type inviteMemberResponse struct {
	MemberID string `json:"member_id"`
}

func (r *inviteMemberResponse) Validate() error {
	if r.MemberID == "" {
		return fmt.Errorf("missing member_id")
	}
	return nil
}

// InviteOrganizationMember asks the provider to email an organization invite.
// A DuplicateMember failure means the email already belongs to the org and
// callers should fall back to resend semantics instead of erroring.
func (c *Client) InviteOrganizationMember(ctx context.Context, providerOrgID, email, name string, roles []string) (string, error) {
	body := map[string]any{
		"email_address": email,
		"roles":         roles,
	}
	if name != "" {
		body["name"] = name
	}

	var resp inviteMemberResponse
	path := fmt.Sprintf("/b2b/organizations/%s/members", url.PathEscape(providerOrgID))
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	return resp.MemberID, nil
}

// Member is one organization member as reported by the provider.
type Member struct {
	MemberID     string `json:"member_id"`
	UserID       string `json:"user_id"`
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

type searchMembersResponse struct {
	Members    []Member `json:"members"`
	NextCursor string   `json:"next_cursor"`
}

func (r *searchMembersResponse) Validate() error {
	for i, m := range r.Members {
		if m.MemberID == "" {
			return fmt.Errorf("member %d missing member_id", i)
		}
	}
	return nil
}

// maxSearchPages bounds reconciliation sweeps; a safety ceiling rather than
// an unbounded pagination loop.
const maxSearchPages = 100

// SearchOrganizationMembers drives the provider's member search to completion
// across all pages.
func (c *Client) SearchOrganizationMembers(ctx context.Context, providerOrgID string, pageSize int) ([]Member, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	path := fmt.Sprintf("/b2b/organizations/%s/members/search", url.PathEscape(providerOrgID))
	var all []Member
	cursor := ""
	for page := 0; page < maxSearchPages; page++ {
		body := map[string]any{"page_size": pageSize}
		if cursor != "" {
			body["cursor"] = cursor
		}

		var resp searchMembersResponse
		if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Members...)

		if resp.NextCursor == "" {
			return all, nil
		}
		cursor = resp.NextCursor
	}
	return nil, apperr.Wrap(apperr.KindContractViolation, "identity provider returned an unexpected response",
		fmt.Errorf("member search exceeded %d pages", maxSearchPages))
}

// SendMagicLink asks the provider to email a login magic link to an existing
// organization member. Used as the resend fallback when an invite hits
// DuplicateMember.
func (c *Client) SendMagicLink(ctx context.Context, providerOrgID, email string) error {
	return c.do(ctx, http.MethodPost, "/b2b/magic_links/email/send", map[string]string{
		"organization_id": providerOrgID,
		"email_address":   email,
	}, nil)
}
