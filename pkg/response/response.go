package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the unified API response format.
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Kind      string      `json:"kind,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Stable error kinds surfaced to API clients. Handlers and services use
// these so callers can branch on machine-readable codes instead of message
// strings.
const (
	KindAlreadyMember       = "already_member"
	KindLastAdminViolation  = "last_admin_violation"
	KindMemberNotFound      = "member_not_found"
	KindDatabaseNotFound    = "database_not_found"
	KindUnsupportedDBType   = "unsupported_database_type"
	KindConnectionFailed    = "connection_failed"
	KindTimeout             = "timeout"
	KindQueryFailed         = "query_execution_failed"
	KindInvalidCredentials  = "invalid_credentials"
	KindAccountInactive     = "account_inactive"
	KindTokenExpired        = "token_expired"
	KindTokenInvalid        = "token_invalid"
	KindNotFound            = "not_found"
	KindConflict            = "conflict"
	KindForbidden           = "forbidden"
	KindValidation          = "validation_failed"
)

// AppError represents a structured application error with HTTP status, a
// stable kind and a human-readable message. Messages must never carry raw
// connection credentials.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	Code       int    // Application-level error code
	Kind       string // Stable machine-readable error kind
	Message    string // Human-readable error message
	Retryable  bool   // Whether the caller may retry the same request
	Err        error  // Wrapped cause, not serialized
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithCause returns a copy of the error carrying the underlying cause.
func (e *AppError) WithCause(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// WithMessage returns a copy of the error with a different message.
func (e *AppError) WithMessage(msg string) *AppError {
	clone := *e
	clone.Message = msg
	return &clone
}

// Pre-defined error constructors

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Code: 400, Kind: KindValidation, Message: msg}
}

func NewUnauthorized(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Code: 401, Kind: KindTokenInvalid, Message: msg}
}

func NewForbidden(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Code: 403, Kind: KindForbidden, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Code: 404, Kind: KindNotFound, Message: msg}
}

func NewConflict(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Code: 409, Kind: KindConflict, Message: msg}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Code: 500, Message: msg}
}

// NewKind builds an error with an explicit kind.
func NewKind(status int, kind, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Kind: kind, Message: msg}
}

// NewRetryable builds a retryable error with an explicit kind.
func NewRetryable(status int, kind, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Kind: kind, Message: msg, Retryable: true}
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error sends an error response. If err is an *AppError, its kind, code and
// status are used; otherwise a generic 500 internal server error is returned.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Kind:      appErr.Kind,
			Retryable: appErr.Retryable,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:    500,
		Message: err.Error(),
	})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: 400, Kind: KindValidation, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{Code: 401, Kind: KindTokenInvalid, Message: msg})
}

func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, Response{Code: 403, Kind: KindForbidden, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: 404, Kind: KindNotFound, Message: msg})
}

func ServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: msg})
}
