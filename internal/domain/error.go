// Package domain 定义了远程错误日志的核心领域模型。
package domain

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"
)

// NameValue 表示错误附带集合中的一个键值对。
type NameValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// NameValues 是有序的键值对集合，允许重复的键。
// 与 HTTP 请求中的查询参数、表单、Cookie 等集合保持一致的语义。
type NameValues []NameValue

// Get 返回第一个名称匹配的值。
func (c NameValues) Get(name string) (string, bool) {
	for _, nv := range c {
		if nv.Name == name {
			return nv.Value, true
		}
	}
	return "", false
}

func (c NameValues) clone() NameValues {
	if c == nil {
		return nil
	}
	out := make(NameValues, len(c))
	copy(out, c)
	return out
}

// Error 表示某个错误在发生时刻的快照。
// 构造完成后不应再修改；本仓库中的任何操作都不会修改传入的 Error。
type Error struct {
	ApplicationName string     `json:"application,omitempty" yaml:"application,omitempty"`
	HostName        string     `json:"host" yaml:"host"`
	Type            string     `json:"type" yaml:"type"`
	Source          string     `json:"source,omitempty" yaml:"source,omitempty"`
	Message         string     `json:"message" yaml:"message"`
	Detail          string     `json:"detail" yaml:"detail"`
	User            string     `json:"user,omitempty" yaml:"user,omitempty"`
	Time            time.Time  `json:"time" yaml:"time"`
	StatusCode      int        `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ServerVariables NameValues `json:"server_variables,omitempty" yaml:"server_variables,omitempty"`
	QueryString     NameValues `json:"query_string,omitempty" yaml:"query_string,omitempty"`
	Form            NameValues `json:"form,omitempty" yaml:"form,omitempty"`
	Cookies         NameValues `json:"cookies,omitempty" yaml:"cookies,omitempty"`
}

// ErrorOption 用于在 NewError 时补充可选字段。
type ErrorOption func(*Error)

// WithUser 设置触发错误的用户标识。
func WithUser(user string) ErrorOption {
	return func(e *Error) { e.User = user }
}

// WithApplication 设置应用名称。
func WithApplication(name string) ErrorOption {
	return func(e *Error) { e.ApplicationName = name }
}

// WithSource 设置错误来源（通常是模块或组件名）。
func WithSource(source string) ErrorOption {
	return func(e *Error) { e.Source = source }
}

// WithStatusCode 设置关联的 HTTP 状态码。
func WithStatusCode(code int) ErrorOption {
	return func(e *Error) { e.StatusCode = code }
}

// WithServerVariables 附加服务器变量集合。
func WithServerVariables(vars NameValues) ErrorOption {
	return func(e *Error) { e.ServerVariables = vars.clone() }
}

// WithQueryString 附加查询参数集合。
func WithQueryString(vars NameValues) ErrorOption {
	return func(e *Error) { e.QueryString = vars.clone() }
}

// WithForm 附加表单集合。
func WithForm(vars NameValues) ErrorOption {
	return func(e *Error) { e.Form = vars.clone() }
}

// WithCookies 附加 Cookie 集合。
func WithCookies(vars NameValues) ErrorOption {
	return func(e *Error) { e.Cookies = vars.clone() }
}

// WithTime 覆盖捕获时间，统一转换为 UTC。
func WithTime(t time.Time) ErrorOption {
	return func(e *Error) { e.Time = t.UTC() }
}

// NewError 从 Go error 捕获一个 Error 快照。
//
// 捕获规则：
//   - HostName: os.Hostname()
//   - Type: 错误的动态类型名（%T）
//   - Message: err.Error()
//   - Detail: "<类型>: <消息>" 加上当前 goroutine 的调用栈
//   - Time: 当前 UTC 时间
func NewError(err error, opts ...ErrorOption) *Error {
	host, _ := os.Hostname()

	typeName := "<nil>"
	message := ""
	if err != nil {
		typeName = fmt.Sprintf("%T", err)
		message = err.Error()
	}

	e := &Error{
		HostName: host,
		Type:     typeName,
		Message:  message,
		Detail:   fmt.Sprintf("%s: %s\n%s", typeName, message, debug.Stack()),
		Time:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clone 返回 Error 的深拷贝。
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.ServerVariables = e.ServerVariables.clone()
	c.QueryString = e.QueryString.clone()
	c.Form = e.Form.clone()
	c.Cookies = e.Cookies.clone()
	return &c
}
