// Package domain defines the core domain models for QueryDeck.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the format QD-{AREA}-{NNNN}; the trailing digits mirror the
// closest HTTP status so the gateway can map them without a lookup table.
type DomainError struct {
	Code    string // Error code (e.g., "QD-PROF-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// RemoteMessage returns the gateway-supplied message carried by a
// RemoteConnectFailed error, unchanged. Empty for any other error.
func RemoteMessage(err error) string {
	var de *DomainError
	if errors.As(err, &de) && de.Code == ErrRemoteConnectFailed.Code {
		return de.Details
	}
	return ""
}

// ============================================================================
// Profile Errors (PROF)
// ============================================================================

var (
	// ErrInvalidProfile indicates a profile failed creation validation.
	ErrInvalidProfile = NewDomainError("QD-PROF-4001", "invalid connection profile")

	// ErrUnknownConnection indicates no profile exists with the given id.
	ErrUnknownConnection = NewDomainError("QD-PROF-4040", "unknown connection")

	// ErrInvalidDocument indicates an export document could not be parsed.
	ErrInvalidDocument = NewDomainError("QD-PROF-4002", "invalid connection document")
)

// ============================================================================
// Credential / Vault Errors (CRED, VLT)
// ============================================================================

var (
	// ErrCredentialsRequired indicates no secret could be resolved for a
	// profile that needs one.
	ErrCredentialsRequired = NewDomainError("QD-CRED-4010", "credentials required")

	// ErrDecryptionFailed indicates a wrong passphrase or a corrupted entry.
	ErrDecryptionFailed = NewDomainError("QD-VLT-4011", "decryption failed")

	// ErrPassphraseRequired indicates the vault has no master passphrase yet.
	ErrPassphraseRequired = NewDomainError("QD-VLT-4012", "master passphrase not set")

	// ErrSecretNotFound indicates the vault holds no entry for the profile.
	ErrSecretNotFound = NewDomainError("QD-VLT-4040", "stored secret not found")

	// ErrPassphraseAlreadySet indicates a master passphrase record already exists.
	ErrPassphraseAlreadySet = NewDomainError("QD-VLT-4090", "master passphrase already set")
)

// ============================================================================
// Session Errors (SESS, GW)
// ============================================================================

var (
	// ErrAlreadyInProgress indicates a connect attempt for the same profile
	// has not finished yet.
	ErrAlreadyInProgress = NewDomainError("QD-SESS-4090", "connect already in progress")

	// ErrNoActiveConnection indicates an operation needs an active profile.
	ErrNoActiveConnection = NewDomainError("QD-SESS-4041", "no active connection")

	// ErrRemoteConnectFailed indicates the gateway rejected or failed a
	// connect. Details carries the gateway message verbatim.
	ErrRemoteConnectFailed = NewDomainError("QD-GW-5020", "remote connect failed")

	// ErrGatewayUnavailable indicates the gateway could not be reached.
	ErrGatewayUnavailable = NewDomainError("QD-GW-5030", "gateway unavailable")
)

// ============================================================================
// Live Channel Errors (CHAN)
// ============================================================================

var (
	// ErrChannelClosed indicates a send on a channel that is not open.
	ErrChannelClosed = NewDomainError("QD-CHAN-5030", "live channel closed")

	// ErrMaxReconnectAttemptsReached indicates the reconnect budget is spent.
	ErrMaxReconnectAttemptsReached = NewDomainError("QD-CHAN-5031", "max reconnect attempts reached")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("QD-SYS-5000", "internal error")

	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("QD-SYS-5001", "storage error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("QD-SYS-4000", "bad request")

	// ErrUnauthorized indicates a request without a caller session.
	ErrUnauthorized = NewDomainError("QD-SYS-4010", "caller session required")

	// ErrNotFound indicates a generic missing resource on the gateway.
	ErrNotFound = NewDomainError("QD-SYS-4040", "not found")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("QD-SYS-4290", "too many requests")
)
