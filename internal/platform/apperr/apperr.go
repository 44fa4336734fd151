// Package apperr defines the failure taxonomy shared by the reconciliation
// engine, the identity-provider client, and the HTTP handlers. Every error
// that crosses the handler boundary is classified into one of these kinds;
// raw driver or transport errors never reach a client response.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for HTTP surfacing and caller branching.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthInvalid
	KindOrgNotFound
	KindNoInvitation
	KindNoEmailOnFile
	KindInsufficientRole
	KindDuplicateMember
	KindProviderTimeout
	KindProviderUnreachable
	KindProviderError
	KindContractViolation
	KindWebhookSignature
	KindWebhookValidation
)

var kindNames = map[Kind]string{
	KindInternal:            "internal",
	KindAuthInvalid:         "auth_invalid",
	KindOrgNotFound:         "org_not_found",
	KindNoInvitation:        "no_invitation",
	KindNoEmailOnFile:       "no_email_on_file",
	KindInsufficientRole:    "insufficient_role",
	KindDuplicateMember:     "duplicate_member",
	KindProviderTimeout:     "provider_timeout",
	KindProviderUnreachable: "provider_unreachable",
	KindProviderError:       "provider_error",
	KindContractViolation:   "provider_contract_violation",
	KindWebhookSignature:    "webhook_signature_invalid",
	KindWebhookValidation:   "webhook_validation_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "internal"
}

// HTTPStatus maps a kind to its response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthInvalid, KindWebhookSignature:
		return http.StatusUnauthorized
	case KindInsufficientRole:
		return http.StatusForbidden
	case KindOrgNotFound, KindNoInvitation:
		return http.StatusNotFound
	case KindNoEmailOnFile, KindWebhookValidation:
		return http.StatusBadRequest
	case KindDuplicateMember:
		return http.StatusConflict
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindProviderUnreachable, KindProviderError, KindContractViolation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Msg is safe to return to clients; Err holds
// the underlying cause for logs only.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a client-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a classified error carrying an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or KindInternal when err was never
// classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the client-safe message for err. Unclassified errors get a
// generic message so driver details never leak.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return "internal server error"
}
