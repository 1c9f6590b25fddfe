package domain

import (
	"errors"
	"net/http"
)

// ErrorKind 对外暴露的错误类别，从核心一直保留到传输层
type ErrorKind string

const (
	KindInvalidName        ErrorKind = "InvalidName"
	KindWeakPassword       ErrorKind = "WeakPassword"
	KindUnknownDomain      ErrorKind = "UnknownDomain"
	KindIdentityTaken      ErrorKind = "IdentityTaken"
	KindInvalidInvite      ErrorKind = "InvalidInvite"
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindStorageError       ErrorKind = "StorageError"
	KindNotificationFailed ErrorKind = "NotificationFailed"

	// 以下类别仅出现在外层接口
	KindUnknownIssuer  ErrorKind = "UnknownIssuer"
	KindInvalidRequest ErrorKind = "InvalidRequest"
	KindUnauthorized   ErrorKind = "Unauthorized"
	KindForbidden      ErrorKind = "Forbidden"
	KindRateLimited    ErrorKind = "RateLimited"
)

// 业务错误定义
var (
	ErrInvalidName        = errors.New("invalid name")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrUnknownDomain      = errors.New("unknown domain")
	ErrIdentityTaken      = errors.New("identity already taken")
	ErrInvalidInvite      = errors.New("invalid invite")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStorage            = errors.New("storage error")
	ErrNotificationFailed = errors.New("notification failed")
	ErrUnknownIssuer      = errors.New("no such email")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("admin access required")
	ErrRateLimited        = errors.New("too many requests")
)

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidName, KindInvalidName},
	{ErrWeakPassword, KindWeakPassword},
	{ErrUnknownDomain, KindUnknownDomain},
	{ErrIdentityTaken, KindIdentityTaken},
	{ErrInvalidInvite, KindInvalidInvite},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrNotificationFailed, KindNotificationFailed},
	{ErrUnknownIssuer, KindUnknownIssuer},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
	{ErrRateLimited, KindRateLimited},
	{ErrStorage, KindStorageError},
}

// KindOf 返回错误对应的类别
//
// 无法识别的错误一律归为 StorageError，避免把内部故障当作业务错误。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindStorageError
}

// StatusHint 返回错误类别对应的 HTTP 状态
func StatusHint(kind ErrorKind) int {
	switch kind {
	case KindInvalidName, KindWeakPassword, KindIdentityTaken, KindInvalidInvite, KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnknownDomain, KindInvalidCredentials, KindUnknownIssuer:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotificationFailed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// StorageFailure 把底层存储错误包装为 StorageError，保留原始错误链
func StorageFailure(op string, err error) error {
	return &storageError{op: op, err: err}
}

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *storageError) Unwrap() []error {
	return []error{ErrStorage, e.err}
}
