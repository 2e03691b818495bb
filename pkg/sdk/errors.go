package sdk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies session and data-access failures so that host
// applications can branch on the class of failure without string matching.
type ErrorKind string

const (
	// KindOrgInvalid indicates the configured organization id is malformed
	// or unknown to the identity provider.
	KindOrgInvalid ErrorKind = "org_invalid"

	// KindNotOrgMember indicates the authenticated identity's organization
	// claim does not match the organization this SDK instance is bound to.
	KindNotOrgMember ErrorKind = "not_org_member"

	// KindSessionExpired indicates the provider could not refresh an
	// existing session.
	KindSessionExpired ErrorKind = "session_expired"

	// KindAuthenticationFailed indicates the provider could not establish a
	// session at all.
	KindAuthenticationFailed ErrorKind = "authentication_failed"

	// KindNetworkError indicates a transport-level failure reaching the
	// provider or the backend.
	KindNetworkError ErrorKind = "network_error"

	// KindMutationValidation indicates the backend returned structured
	// field-level errors for a write.
	KindMutationValidation ErrorKind = "mutation_validation"

	// KindStaleResponse is internal bookkeeping: a superseded response was
	// dropped. It is never surfaced to host applications.
	KindStaleResponse ErrorKind = "stale_response_discarded"
)

// Error carries an ErrorKind alongside the provider- or backend-supplied
// description. It wraps the underlying cause when one exists.
type Error struct {
	Kind        ErrorKind
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Description)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// newError constructs a classified error wrapping cause.
func newError(kind ErrorKind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinel errors for conditions callers commonly test with errors.Is.
var (
	// ErrStaleResponse marks a response discarded under last-request-wins.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrNotAuthenticated is returned by operations that require an
	// established session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrClosed is returned after the SDK instance has been torn down.
	ErrClosed = errors.New("sdk closed")
)

// classifyRedirectError maps a provider redirect failure (the error and
// error_description query parameters of the callback URL) onto the taxonomy.
// The description is preserved verbatim so host applications can surface it,
// e.g. Auth0's "invitation not found or already used".
func classifyRedirectError(code, description string) *Error {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "organization") && (strings.Contains(lower, "not found") || strings.Contains(lower, "invalid")):
		return newError(KindOrgInvalid, description, nil)
	case code == "access_denied" && strings.Contains(lower, "not a member"):
		return newError(KindNotOrgMember, description, nil)
	case code == "login_required" || code == "interaction_required":
		return newError(KindSessionExpired, description, nil)
	default:
		return newError(KindAuthenticationFailed, description, nil)
	}
}
