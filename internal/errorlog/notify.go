package errorlog

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/domain"
)

// Notifier 在错误被成功记录后接收通知。
// logID 是日志流标识；被包装的 ErrorLog 没有日志流标识时为其 Name()。
type Notifier interface {
	ErrorLogged(ctx context.Context, logID string, entry *domain.ErrorLogEntry) error
}

// NotifierFunc 让普通函数实现 Notifier。
type NotifierFunc func(ctx context.Context, logID string, entry *domain.ErrorLogEntry) error

// ErrorLogged 调用 f。
func (f NotifierFunc) ErrorLogged(ctx context.Context, logID string, entry *domain.ErrorLogEntry) error {
	return f(ctx, logID, entry)
}

// LogIdentity 返回 log 的日志流标识（实现了 LogID() 时），否则返回 Name()。
func LogIdentity(log ErrorLog) string {
	if l, ok := log.(interface{ LogID() string }); ok {
		return l.LogID()
	}
	return log.Name()
}

type notifyingLog struct {
	ErrorLog
	notifier Notifier
	logger   *logrus.Logger
}

// WithNotifier 包装 log：每次 Log 成功后调用 notifier。
// 通知失败只记录警告日志，不影响 Log 的返回值；Log 失败时不发送通知。
func WithNotifier(log ErrorLog, notifier Notifier, logger *logrus.Logger) ErrorLog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &notifyingLog{ErrorLog: log, notifier: notifier, logger: logger}
}

func (n *notifyingLog) Log(ctx context.Context, e *domain.Error) (string, error) {
	id, err := n.ErrorLog.Log(ctx, e)
	if err != nil {
		return "", err
	}

	logID := LogIdentity(n.ErrorLog)
	if nerr := n.notifier.ErrorLogged(ctx, logID, domain.NewErrorLogEntry(id, e)); nerr != nil {
		n.logger.WithContext(ctx).WithError(nerr).WithFields(logrus.Fields{
			"log_id":   logID,
			"entry_id": id,
		}).Warn("Failed to send error notification")
	}
	return id, nil
}

// LogID 返回被包装日志的日志流标识。
func (n *notifyingLog) LogID() string {
	return LogIdentity(n.ErrorLog)
}
