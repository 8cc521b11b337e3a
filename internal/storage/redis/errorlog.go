// Package redis 提供基于 Redis 的 ErrorLog 实现。
//
// 键布局:
//   - relog:<logId>:ids          列表，最新的条目 ID 在最前 (LPUSH)
//   - relog:<logId>:error:<id>   字符串，条目的错误 XML
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
)

// KeyPrefix 是所有键的前缀
const KeyPrefix = "relog"

// ErrorLog 把错误保存在 Redis 中。maxLen > 0 时只保留最新的 maxLen 条。
type ErrorLog struct {
	client goredis.UniversalClient
	logID  string
	maxLen int
	logger *logrus.Logger
}

// Open 连接 addr 上的 Redis 并创建 ErrorLog。
func Open(ctx context.Context, addr, logID string, maxLen int, logger *logrus.Logger) (*ErrorLog, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", domain.ErrStorageConnection)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageConnection, err)
	}

	l, err := New(client, logID, maxLen, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return l, nil
}

// New 使用已有客户端创建 ErrorLog。
func New(client goredis.UniversalClient, logID string, maxLen int, logger *logrus.Logger) (*ErrorLog, error) {
	if logID == "" {
		return nil, domain.ErrMissingLogID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if maxLen < 0 {
		maxLen = 0
	}
	return &ErrorLog{client: client, logID: logID, maxLen: maxLen, logger: logger}, nil
}

// Close 关闭 Redis 客户端。
func (l *ErrorLog) Close() error {
	return l.client.Close()
}

// Name 返回实现名称。
func (l *ErrorLog) Name() string {
	return "Redis Error Log"
}

// LogID 返回日志流标识。
func (l *ErrorLog) LogID() string {
	return l.logID
}

func (l *ErrorLog) idsKey() string {
	return fmt.Sprintf("%s:%s:ids", KeyPrefix, l.logID)
}

func (l *ErrorLog) errorKey(id string) string {
	return fmt.Sprintf("%s:%s:error:%s", KeyPrefix, l.logID, id)
}

func (l *ErrorLog) Log(ctx context.Context, e *domain.Error) (string, error) {
	data, err := domain.EncodeErrorXML(e)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, l.errorKey(id), data, 0)
		pipe.LPush(ctx, l.idsKey(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: store error: %w", domain.ErrStorageQuery, err)
	}

	if l.maxLen > 0 {
		if err := l.trim(ctx); err != nil {
			// 条目已经写入，淘汰失败只影响容量
			l.logger.WithContext(ctx).WithError(err).WithField("log_id", l.logID).Warn("Failed to trim error log")
		}
	}

	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"log_id":   l.logID,
		"entry_id": id,
	}).Debug("Error stored")
	return id, nil
}

// trim 删除超出 maxLen 的最旧条目。
func (l *ErrorLog) trim(ctx context.Context) error {
	evicted, err := l.client.LRange(ctx, l.idsKey(), int64(l.maxLen), -1).Result()
	if err != nil {
		return err
	}
	if len(evicted) == 0 {
		return nil
	}

	keys := make([]string, 0, len(evicted))
	for _, id := range evicted {
		keys = append(keys, l.errorKey(id))
	}
	_, err = l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LTrim(ctx, l.idsKey(), 0, int64(l.maxLen-1))
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func (l *ErrorLog) GetError(ctx context.Context, id string) (*domain.ErrorLogEntry, error) {
	if id == "" {
		return nil, domain.ErrInvalidEntryID
	}

	data, err := l.client.Get(ctx, l.errorKey(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get error: %w", domain.ErrStorageQuery, err)
	}

	e, err := domain.DecodeErrorXMLString(data)
	if err != nil {
		return nil, err
	}
	return domain.NewErrorLogEntry(id, e), nil
}

// GetErrors 从新到旧分页读取，返回列表长度作为总条数。
// 读取期间被淘汰的条目会被跳过。
func (l *ErrorLog) GetErrors(ctx context.Context, pageIndex, pageSize int, entries *[]*domain.ErrorLogEntry) (int, error) {
	if pageIndex < 0 || pageSize < 0 {
		return 0, domain.ErrInvalidPage
	}

	total, err := l.client.LLen(ctx, l.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count errors: %w", domain.ErrStorageQuery, err)
	}
	if entries == nil {
		return int(total), nil
	}
	start, end, ok := errorlog.PageBounds(pageIndex, pageSize, int(total))
	if !ok {
		return int(total), nil
	}

	ids, err := l.client.LRange(ctx, l.idsKey(), int64(start), int64(end-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: list errors: %w", domain.ErrStorageQuery, err)
	}
	if len(ids) == 0 {
		return int(total), nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, l.errorKey(id))
	}
	values, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: get errors: %w", domain.ErrStorageQuery, err)
	}

	page := make([]*domain.ErrorLogEntry, 0, len(ids))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		e, err := domain.DecodeErrorXMLString(s)
		if err != nil {
			return 0, fmt.Errorf("entry %q: %w", ids[i], err)
		}
		page = append(page, domain.NewErrorLogEntry(ids[i], e))
	}

	*entries = append(*entries, page...)
	return int(total), nil
}
