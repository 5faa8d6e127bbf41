package domain

import (
	"errors"
	"fmt"
)

// Code classifies failures surfaced by the domain lifecycle operations.
type Code string

const (
	CodeInvalidFormat         Code = "invalid_format"
	CodeDuplicateDomain       Code = "duplicate_domain"
	CodeTenantNotFound        Code = "tenant_not_found"
	CodeTenantInactive        Code = "tenant_inactive"
	CodeProviderError         Code = "provider_error"
	CodeProviderUnavailable   Code = "provider_unavailable"
	CodeResolutionFailure     Code = "resolution_failure"
	CodeVerificationExhausted Code = "verification_exhausted"
	CodeZoneNotActive         Code = "zone_not_active"
	CodeInvalidRecord         Code = "invalid_record"
)

// Error is a structured failure with an actionable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidFormat         = &Error{Code: CodeInvalidFormat, Message: "invalid domain format"}
	ErrDuplicateDomain       = &Error{Code: CodeDuplicateDomain, Message: "domain is already in use by another tenant"}
	ErrTenantNotFound        = &Error{Code: CodeTenantNotFound, Message: "tenant not found"}
	ErrTenantInactive        = &Error{Code: CodeTenantInactive, Message: "tenant is not active"}
	ErrProvider              = &Error{Code: CodeProviderError, Message: "dns provider request failed"}
	ErrProviderUnavailable   = &Error{Code: CodeProviderUnavailable, Message: "dns provider is not configured"}
	ErrResolutionFailure     = &Error{Code: CodeResolutionFailure, Message: "tenant resolution unavailable"}
	ErrVerificationExhausted = &Error{Code: CodeVerificationExhausted, Message: "nameserver verification attempts exhausted; recheck the registrar nameserver configuration"}
	ErrZoneNotActive         = &Error{Code: CodeZoneNotActive, Message: "zone is not active yet"}
	ErrInvalidRecord         = &Error{Code: CodeInvalidRecord, Message: "invalid dns record"}
)

// NewError builds an Error with a specific message.
func NewError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf extracts the code of err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
