package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// 能力与配置类错误，均不参与重试
const (
	ErrUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	ErrMissingCredential    ErrorCode = "MISSING_CREDENTIAL"
	ErrConfiguration        ErrorCode = "CONFIGURATION"
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// 上游传输类错误
const (
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrModelOverloaded     ErrorCode = "MODEL_OVERLOADED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrContentFiltered     ErrorCode = "CONTENT_FILTERED"
)

// 结果类错误
const (
	ErrMalformedOutput    ErrorCode = "MALFORMED_OUTPUT"
	ErrAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	// VendorCode 保留上游原始错误码（如 "insufficient_quota"）
	VendorCode string `json:"vendor_code,omitempty"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithVendorCode records the vendor's own error code.
func (e *Error) WithVendorCode(code string) *Error {
	e.VendorCode = code
	return e
}

// AsError 沿错误链查找 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode 判断错误链中是否存在指定错误码。
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsUnsupported 判断是否为后端不支持该操作。
func IsUnsupported(err error) bool {
	return IsErrorCode(err, ErrUnsupportedOperation)
}

// IsMissingCredential 判断是否为凭证缺失。
func IsMissingCredential(err error) bool {
	return IsErrorCode(err, ErrMissingCredential)
}

// IsConfiguration 判断是否为请求配置错误。
func IsConfiguration(err error) bool {
	return IsErrorCode(err, ErrConfiguration)
}

// NewUnsupportedError 构造不支持操作错误。
func NewUnsupportedError(provider, operation string) *Error {
	return NewError(ErrUnsupportedOperation, fmt.Sprintf("%s does not support %s", provider, operation)).
		WithProvider(provider)
}

// NewMissingCredentialError 构造凭证缺失错误。
func NewMissingCredentialError(provider, envVar string) *Error {
	return NewError(ErrMissingCredential, fmt.Sprintf("credential %s is not set", envVar)).
		WithProvider(provider)
}

// NewConfigurationError 构造配置错误。
func NewConfigurationError(message string) *Error {
	return NewError(ErrConfiguration, message)
}

// NewMalformedOutputError 构造输出解析失败错误，可重试。
func NewMalformedOutputError(provider string, cause error) *Error {
	return NewError(ErrMalformedOutput, "model output is not valid JSON").
		WithProvider(provider).
		WithRetryable(true).
		WithCause(cause)
}

// NewAllProvidersFailedError 构造没有任何后端被尝试时的失败错误。
func NewAllProvidersFailedError() *Error {
	return NewError(ErrAllProvidersFailed, "all providers failed")
}
