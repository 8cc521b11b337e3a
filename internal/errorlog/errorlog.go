// Package errorlog 定义错误日志的持久化契约 ErrorLog 及其实现。
//
// 实现包括：
//   - RemoteErrorLog: 将错误通过 HTTP 写入/读取远程日志 API
//   - MemoryErrorLog: 进程内保存最近若干条错误
//   - WithNotifier: 在成功记录后发送通知的装饰器
//
// 基于 SQL 与 Redis 的实现位于 internal/storage 下。
package errorlog

import (
	"context"

	"github.com/oriys/relog/internal/domain"
)

// ErrorLog 是错误日志的持久化契约。
type ErrorLog interface {
	// Name 返回实现的可读名称
	Name() string
	// Log 记录一个错误，返回存储端分配的 ID
	Log(ctx context.Context, e *domain.Error) (string, error)
	// GetError 按 ID 读取一条错误记录
	GetError(ctx context.Context, id string) (*domain.ErrorLogEntry, error)
	// GetErrors 读取第 pageIndex 页（从 0 开始）的记录并按顺序追加到 entries，
	// 返回值的含义由实现决定：远程实现返回本页条数，本地存储返回总条数。
	GetErrors(ctx context.Context, pageIndex, pageSize int, entries *[]*domain.ErrorLogEntry) (int, error)
}

// 操作名，用于指标与追踪
const (
	opLog       = "log"
	opGetError  = "get_error"
	opGetErrors = "get_errors"
)

func validatePage(pageIndex, pageSize int) error {
	if pageIndex < 0 || pageSize < 0 {
		return domain.ErrInvalidPage
	}
	return nil
}

// PageBounds 计算第 pageIndex 页在 total 条记录中的区间 [start, end)。
// 页超出末尾或 pageSize 为 0 时 ok 为 false；任何非负输入都不会溢出。
func PageBounds(pageIndex, pageSize, total int) (start, end int, ok bool) {
	if pageIndex < 0 || pageSize <= 0 || total <= 0 {
		return 0, 0, false
	}
	if pageIndex > (total-1)/pageSize {
		return 0, 0, false
	}
	start = pageIndex * pageSize
	end = total
	if total-start > pageSize {
		end = start + pageSize
	}
	return start, end, true
}
