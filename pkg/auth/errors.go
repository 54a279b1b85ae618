package auth

import "fmt"

// Kind 握手拒绝类别
type Kind int

const (
	// KindAuthentication 凭证缺失、畸形或身份校验失败
	KindAuthentication Kind = iota + 1
	// KindNamespaceMismatch 拨号路径与解析出的租户不一致
	KindNamespaceMismatch
	// KindOriginMismatch Origin 与 Host 主机名不一致
	KindOriginMismatch
)

// String 返回类别名称
func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNamespaceMismatch:
		return "namespace_mismatch"
	case KindOriginMismatch:
		return "origin_mismatch"
	default:
		return "unknown"
	}
}

// Error 握手拒绝错误
//
// 所有握手阶段的拒绝均为此类型，连接在进入任何业务处理前终止。
type Error struct {
	Kind    Kind
	Message string
	Err     error // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus 映射为握手拒绝的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return 401
	default:
		return 403
	}
}

// errAuthentication 创建认证错误
func errAuthentication(message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Err: err}
}

// errNamespaceMismatch 创建命名空间不一致错误
func errNamespaceMismatch(message string) *Error {
	return &Error{Kind: KindNamespaceMismatch, Message: message}
}

// errOriginMismatch 创建 Origin 不一致错误
func errOriginMismatch(message string) *Error {
	return &Error{Kind: KindOriginMismatch, Message: message}
}
