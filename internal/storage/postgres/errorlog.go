// Package postgres 提供基于 PostgreSQL 的 ErrorLog 实现。
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // 注册 postgres 驱动
	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS relog_error (
	id          UUID PRIMARY KEY,
	log_id      TEXT NOT NULL,
	application TEXT NOT NULL DEFAULT '',
	host        TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	"user"      TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	time_utc    TIMESTAMPTZ NOT NULL,
	sequence    BIGSERIAL,
	all_xml     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relog_error_log_time ON relog_error (log_id, time_utc DESC, sequence DESC);
`

// ErrorLog 把错误保存在 relog_error 表中，同一张表可以容纳多个日志流（log_id）。
type ErrorLog struct {
	db     *sql.DB
	logID  string
	logger *logrus.Logger
}

// Open 连接 dsn 指向的数据库并确保表结构存在。
func Open(ctx context.Context, dsn, logID string, logger *logrus.Logger) (*ErrorLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", domain.ErrStorageConnection)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageConnection, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageConnection, err)
	}

	l, err := New(db, logID, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New 使用已有连接创建 ErrorLog，不会创建表结构。
func New(db *sql.DB, logID string, logger *logrus.Logger) (*ErrorLog, error) {
	if logID == "" {
		return nil, domain.ErrMissingLogID
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorLog{db: db, logID: logID, logger: logger}, nil
}

// EnsureSchema 创建 relog_error 表及索引（已存在时不做任何事）。
func (l *ErrorLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %w", domain.ErrStorageQuery, err)
	}
	return nil
}

// Close 关闭数据库连接。
func (l *ErrorLog) Close() error {
	return l.db.Close()
}

// Name 返回实现名称。
func (l *ErrorLog) Name() string {
	return "PostgreSQL Error Log"
}

// LogID 返回日志流标识。
func (l *ErrorLog) LogID() string {
	return l.logID
}

func (l *ErrorLog) Log(ctx context.Context, e *domain.Error) (string, error) {
	data, err := domain.EncodeErrorXML(e)
	if err != nil {
		return "", err
	}

	when := e.Time
	if when.IsZero() {
		when = time.Now()
	}

	id := uuid.New().String()
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO relog_error (id, log_id, application, host, type, source, message, "user", status_code, time_utc, all_xml)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, l.logID, e.ApplicationName, e.HostName, e.Type, e.Source, e.Message, e.User, e.StatusCode, when.UTC(), string(data),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert error: %w", domain.ErrStorageQuery, err)
	}

	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"log_id":   l.logID,
		"entry_id": id,
	}).Debug("Error stored")
	return id, nil
}

func (l *ErrorLog) GetError(ctx context.Context, id string) (*domain.ErrorLogEntry, error) {
	if id == "" {
		return nil, domain.ErrInvalidEntryID
	}
	if _, err := uuid.Parse(id); err != nil {
		// 表中的 id 都是 UUID，其它格式一定不存在
		return nil, domain.ErrEntryNotFound
	}

	var allXML string
	err := l.db.QueryRowContext(ctx,
		`SELECT all_xml FROM relog_error WHERE id = $1 AND log_id = $2`, id, l.logID,
	).Scan(&allXML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select error: %w", domain.ErrStorageQuery, err)
	}

	e, err := domain.DecodeErrorXMLString(allXML)
	if err != nil {
		return nil, err
	}
	return domain.NewErrorLogEntry(id, e), nil
}

// GetErrors 按时间从新到旧分页读取，返回该日志流的总条数。
func (l *ErrorLog) GetErrors(ctx context.Context, pageIndex, pageSize int, entries *[]*domain.ErrorLogEntry) (int, error) {
	if pageIndex < 0 || pageSize < 0 {
		return 0, domain.ErrInvalidPage
	}

	var total int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relog_error WHERE log_id = $1`, l.logID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: count errors: %w", domain.ErrStorageQuery, err)
	}
	if entries == nil {
		return total, nil
	}
	start, end, ok := errorlog.PageBounds(pageIndex, pageSize, total)
	if !ok {
		return total, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, all_xml FROM relog_error
		WHERE log_id = $1
		ORDER BY time_utc DESC, sequence DESC
		LIMIT $2 OFFSET $3`,
		l.logID, end-start, start,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: select errors: %w", domain.ErrStorageQuery, err)
	}
	defer rows.Close()

	page := make([]*domain.ErrorLogEntry, 0, end-start)
	for rows.Next() {
		var id, allXML string
		if err := rows.Scan(&id, &allXML); err != nil {
			return 0, fmt.Errorf("%w: scan error: %w", domain.ErrStorageQuery, err)
		}
		e, err := domain.DecodeErrorXMLString(allXML)
		if err != nil {
			return 0, fmt.Errorf("entry %q: %w", id, err)
		}
		page = append(page, domain.NewErrorLogEntry(id, e))
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrStorageQuery, err)
	}

	*entries = append(*entries, page...)
	return total, nil
}
