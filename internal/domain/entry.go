package domain

// ErrorLogEntry 表示错误日志中的一条记录：存储端分配的 ID 与对应的 Error。
// 远程适配器只在反序列化响应时创建该结构。
type ErrorLogEntry struct {
	ID    string `json:"id" yaml:"id"`
	Error *Error `json:"error" yaml:"error"`
}

// NewErrorLogEntry 创建一条错误日志记录。
func NewErrorLogEntry(id string, e *Error) *ErrorLogEntry {
	return &ErrorLogEntry{ID: id, Error: e}
}
