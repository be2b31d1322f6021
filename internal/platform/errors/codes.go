// Package errors provides structured error handling for the identity core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"
	CodeInactive Code = "INACTIVE"

	// Uniqueness and lock errors
	CodeConflict Code = "CONFLICT"

	// Credential errors
	CodeInvalidCredential Code = "INVALID_CREDENTIAL"

	// Short-lived credential lifecycle errors
	CodeExpired         Code = "EXPIRED"
	CodeAlreadyConsumed Code = "ALREADY_CONSUMED"

	// State errors
	CodeInvalidState Code = "INVALID_STATE"

	// Infrastructure errors
	CodeUnavailable Code = "UNAVAILABLE"

	// User errors
	CodeUserEmptyEmail   Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail Code = "USER_INVALID_EMAIL"
	CodeUserWeakPassword Code = "USER_WEAK_PASSWORD"
	CodeUserLockedOut    Code = "USER_LOCKED_OUT"
	CodeUserRateLimited  Code = "USER_RATE_LIMITED"

	// Tenant errors
	CodeTenantEmptyIdentifier   Code = "TENANT_EMPTY_IDENTIFIER"
	CodeTenantInvalidIdentifier Code = "TENANT_INVALID_IDENTIFIER"
	CodeTenantSystemRole        Code = "TENANT_SYSTEM_ROLE_IMMUTABLE"

	// Client errors
	CodeClientEmptyID          Code = "CLIENT_EMPTY_ID"
	CodeClientSecretExpired    Code = "CLIENT_SECRET_EXPIRED"
	CodeClientRedirectRejected Code = "CLIENT_REDIRECT_URI_REJECTED"
	CodeClientScopeRejected    Code = "CLIENT_SCOPE_NOT_ALLOWED"
	CodeClientGrantRejected    Code = "CLIENT_GRANT_TYPE_NOT_ALLOWED"

	// Organization errors
	CodeOrgEmptyIdentifier Code = "ORG_EMPTY_IDENTIFIER"
	CodeOrgSystemRole      Code = "ORG_SYSTEM_ROLE_IMMUTABLE"

	// Role assignment errors
	CodeRoleScopeMissingOrg Code = "ROLE_SCOPE_MISSING_ORGANIZATION"
	CodeRoleEmptyID         Code = "ROLE_EMPTY_ID"

	// Signing key errors
	CodeKeyNoActive     Code = "SIGNING_KEY_NO_ACTIVE"
	CodeKeyRevokeActive Code = "SIGNING_KEY_REVOKE_ACTIVE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeUserEmptyEmail,
		CodeUserInvalidEmail,
		CodeUserWeakPassword,
		CodeTenantEmptyIdentifier,
		CodeTenantInvalidIdentifier,
		CodeClientEmptyID,
		CodeOrgEmptyIdentifier,
		CodeRoleEmptyID,
		CodeRoleScopeMissingOrg:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeInactive,
		CodeInvalidState,
		CodeExpired,
		CodeAlreadyConsumed,
		CodeTenantSystemRole,
		CodeOrgSystemRole,
		CodeKeyNoActive,
		CodeKeyRevokeActive,
		CodeClientSecretExpired:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - uniqueness violations, lock contention
	case CodeConflict:
		return codes.AlreadyExists

	// Unauthenticated - credential failures
	case CodeInvalidCredential,
		CodeUserLockedOut:
		return codes.Unauthenticated

	// PermissionDenied - policy rejections
	case CodeClientRedirectRejected,
		CodeClientScopeRejected,
		CodeClientGrantRejected:
		return codes.PermissionDenied

	// ResourceExhausted - throttling
	case CodeUserRateLimited:
		return codes.ResourceExhausted

	// Unavailable - persistence faults
	case CodeUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// OAuthError maps domain codes to standard OAuth2 error strings. The
// descriptions accompanying these errors never leak internal state.
func (c Code) OAuthError() string {
	switch c {
	case CodeExpired,
		CodeAlreadyConsumed,
		CodeNotFound,
		CodeInvalidCredential:
		return "invalid_grant"
	case CodeClientSecretExpired:
		return "invalid_client"
	case CodeInactive,
		CodeUserLockedOut:
		return "access_denied"
	case CodeClientScopeRejected:
		return "invalid_scope"
	case CodeClientGrantRejected:
		return "unauthorized_client"
	case CodeUnavailable:
		return "server_error"
	default:
		return "invalid_request"
	}
}
