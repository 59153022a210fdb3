package types

import "fmt"

// ErrorCode 表示整个检索引擎统一的错误码.
type ErrorCode string

// 存储与检索错误码
const (
	ErrConnection     ErrorCode = "CONNECTION"      // 后端存储不可达，降级对应检索路径
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 引用的实体/关系不存在，跳过并继续
	ErrConfiguration  ErrorCode = "CONFIGURATION"   // 缺少必需配置，初始化阶段致命
	ErrGeneration     ErrorCode = "GENERATION"      // LLM 生成在重试耗尽后仍失败
	ErrNotReady       ErrorCode = "NOT_READY"       // 组件尚未初始化完成
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 调用方参数非法
	ErrTimeout        ErrorCode = "TIMEOUT"         // 外部调用超时，可重试
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
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

// Newf 使用格式化消息创建 Error.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent sets the originating component name.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsCode 判断错误（含包装链）是否携带给定错误码.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
