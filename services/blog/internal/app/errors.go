package app

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for transport mapping.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindBusiness       Kind = "BUSINESS"
	KindInternal       Kind = "INTERNAL"
)

// Error is a user-facing failure: one short message plus a machine-readable code.
// The wrapped cause is kept for logging and never rendered.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any

	cause error
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code, so sentinels compare equal to their wrapped copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t != nil && t.Code == e.Code
}

func (e *Error) wrap(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

func (e *Error) withDetails(details map[string]any) *Error {
	c := *e
	c.Details = details
	return &c
}

var (
	ErrValidation = newError(KindValidation, "VALIDATION_ERROR", "invalid request")

	// ErrInvalidCredentials covers unknown email, inactive account and wrong password alike.
	ErrInvalidCredentials = newError(KindAuthentication, "INVALID_CREDENTIALS", "incorrect email or password")
	ErrInvalidToken       = newError(KindAuthentication, "INVALID_TOKEN", "invalid or expired token")
	ErrUnauthenticated    = newError(KindAuthentication, "UNAUTHENTICATED", "authentication required")

	ErrForbidden = newError(KindAuthorization, "FORBIDDEN", "permission denied")

	ErrUserNotFound    = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrRoleNotFound       = newError(KindNotFound, "NOT_FOUND", "role not found")
	ErrPermissionNotFound = newError(KindNotFound, "PERMISSION_NOT_FOUND", "permission not found")
	ErrCommentNotFound = newError(KindNotFound, "COMMENT_NOT_FOUND", "comment not found")

	ErrIPBanned            = newError(KindBusiness, "IP_BANNED", "this IP address is temporarily banned")
	ErrCaptchaExpired      = newError(KindBusiness, "CAPTCHA_EXPIRED", "captcha expired or missing")
	ErrCaptchaInvalid      = newError(KindBusiness, "CAPTCHA_INVALID", "incorrect captcha")
	ErrEmailExists         = newError(KindBusiness, "EMAIL_EXISTS", "email already registered")
	ErrUsernameExists      = newError(KindBusiness, "USERNAME_EXISTS", "username already taken")
	ErrRoleAlreadyAssigned = newError(KindBusiness, "ALREADY_ASSIGNED", "role already assigned")
	ErrPasswordMismatch    = newError(KindBusiness, "BUSINESS_ERROR", "current password is incorrect")
	ErrParentMismatch      = newError(KindBusiness, "PARENT_MISMATCH", "parent comment belongs to another article")
	ErrRoleNameExists      = newError(KindBusiness, "ROLE_NAME_EXISTS", "role name already exists")
	ErrPermissionExists    = newError(KindBusiness, "PERMISSION_NAME_EXISTS", "permission name already exists")
	ErrBuiltinRole         = newError(KindBusiness, "BUILTIN_ROLE", "built-in roles cannot be renamed or deleted")

	ErrInternal = newError(KindInternal, "INTERNAL_ERROR", "internal error")
)

func invalid(format string, args ...any) *Error {
	return ErrValidation.withMessage(fmt.Sprintf(format, args...))
}

func (e *Error) withMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// internal hides cause behind ErrInternal; *Error values pass through untouched.
func internal(cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return e
	}
	return ErrInternal.wrap(cause)
}
