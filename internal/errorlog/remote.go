package errorlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/relog/internal/config"
	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/metrics"
	"github.com/oriys/relog/internal/telemetry"
	"github.com/oriys/relog/internal/webclient"
)

// FormContentType 是记录错误时请求体的内容类型。
const FormContentType = "application/x-www-form-urlencoded"

// RemoteErrorLog 将 ErrorLog 契约映射到远程日志 API：
//
//	POST {base}/api/logs?logId={LogId}                          body: =<url 编码的错误 XML>
//	GET  {base}/api/logs/{id}&logId={LogId}                     → {"Id": "...", "ErrorXml": "..."}
//	GET  {base}/api/logs?logId={LogId}&pageindex={n}&pagesize={m} → [{"Id": "...", "ErrorXml": "..."}, ...]
//
// 每个方法只发起一次请求，不重试、不缓存；传输层错误原样返回。
// 并发安全性取决于 Factory 的实现。
type RemoteErrorLog struct {
	cfg     *config.LogConfiguration
	factory webclient.Factory
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// RemoteOption 是 RemoteErrorLog 的可选配置。
type RemoteOption func(*RemoteErrorLog)

// WithLogger 设置调试日志使用的 logger。
func WithLogger(logger *logrus.Logger) RemoteOption {
	return func(l *RemoteErrorLog) { l.logger = logger }
}

// WithMetrics 设置指标采集器。
func WithMetrics(m *metrics.Metrics) RemoteOption {
	return func(l *RemoteErrorLog) { l.metrics = m }
}

// NewRemote 创建远程错误日志。
func NewRemote(cfg *config.LogConfiguration, factory webclient.Factory, opts ...RemoteOption) *RemoteErrorLog {
	l := &RemoteErrorLog{
		cfg:     cfg,
		factory: factory,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewRemoteFromSettings 从键/值设置创建远程错误日志。
// 设置中缺少 LogId 时返回 domain.ErrMissingLogID。
func NewRemoteFromSettings(settings map[string]string, factory webclient.Factory, opts ...RemoteOption) (*RemoteErrorLog, error) {
	cfg, err := config.NewLogConfiguration(settings)
	if err != nil {
		return nil, err
	}
	return NewRemote(cfg, factory, opts...), nil
}

// Name 返回实现名称。
func (l *RemoteErrorLog) Name() string {
	return "Remote Error Log"
}

// LogID 返回配置的远程日志流标识。
func (l *RemoteErrorLog) LogID() string {
	return l.cfg.LogID()
}

// remoteEntry 是远程 API 返回的错误条目。
type remoteEntry struct {
	ID       string `json:"Id"`
	ErrorXML string `json:"ErrorXml"`
}

// Log 记录一个错误并返回远程分配的 ID。
// 请求体为 "=" 加上 URL 编码后的错误 XML，内容类型为 application/x-www-form-urlencoded。
func (l *RemoteErrorLog) Log(ctx context.Context, e *domain.Error) (id string, err error) {
	ctx, span := l.startSpan(ctx, "errorlog.Log")
	start := time.Now()
	defer func() {
		l.metrics.RecordRequest(opLog, sinceMs(start), err)
		telemetry.EndSpan(span, err)
	}()

	if e != nil && e.ApplicationName == "" && l.cfg.ApplicationName() != "" {
		e = e.Clone()
		e.ApplicationName = l.cfg.ApplicationName()
	}
	data, err := domain.EncodeErrorXML(e)
	if err != nil {
		return "", err
	}

	client := l.factory.Create()
	client.Header().Set(webclient.HeaderContentType, FormContentType)

	id, err = client.Post(ctx, l.logsURL(nil), "="+url.QueryEscape(string(data)))
	if err != nil {
		return "", err
	}

	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"log_id":   l.cfg.LogID(),
		"entry_id": id,
		"type":     e.Type,
	}).Debug("Error logged")
	return id, nil
}

// GetError 按 ID 读取一条错误记录。
func (l *RemoteErrorLog) GetError(ctx context.Context, id string) (entry *domain.ErrorLogEntry, err error) {
	if id == "" {
		return nil, domain.ErrInvalidEntryID
	}

	ctx, span := l.startSpan(ctx, "errorlog.GetError", attribute.String("entry.id", id))
	start := time.Now()
	defer func() {
		l.metrics.RecordRequest(opGetError, sinceMs(start), err)
		telemetry.EndSpan(span, err)
	}()

	// 单条查询的 URL 中 logId 以 "&" 拼接在路径之后，这是远程 API 的既有格式
	uri := l.cfg.BaseURL() + "/api/logs/" + url.PathEscape(id) + "&logId=" + url.QueryEscape(l.cfg.LogID())

	body, err := l.factory.Create().Get(ctx, uri)
	if err != nil {
		return nil, err
	}

	var dto remoteEntry
	if err := json.Unmarshal([]byte(body), &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	entry, err = toEntry(dto)
	if err != nil {
		return nil, err
	}

	l.metrics.RecordEntries(opGetError, 1)
	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"log_id":   l.cfg.LogID(),
		"entry_id": entry.ID,
	}).Debug("Error fetched")
	return entry, nil
}

// GetErrors 读取一页错误记录，按响应顺序追加到 entries，返回追加的条数。
// 远程 API 不返回总数，因此返回值是本页条数而非全部记录数。
// 响应或任一条目解析失败时整个调用失败，entries 不会被修改。
func (l *RemoteErrorLog) GetErrors(ctx context.Context, pageIndex, pageSize int, entries *[]*domain.ErrorLogEntry) (count int, err error) {
	if err := validatePage(pageIndex, pageSize); err != nil {
		return 0, err
	}

	ctx, span := l.startSpan(ctx, "errorlog.GetErrors",
		attribute.Int("page.index", pageIndex),
		attribute.Int("page.size", pageSize),
	)
	start := time.Now()
	defer func() {
		l.metrics.RecordRequest(opGetErrors, sinceMs(start), err)
		telemetry.EndSpan(span, err)
	}()

	q := url.Values{}
	q.Set("pageindex", strconv.Itoa(pageIndex))
	q.Set("pagesize", strconv.Itoa(pageSize))

	body, err := l.factory.Create().Get(ctx, l.logsURL(q))
	if err != nil {
		return 0, err
	}

	var dtos []remoteEntry
	if err := json.Unmarshal([]byte(body), &dtos); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}

	page := make([]*domain.ErrorLogEntry, 0, len(dtos))
	for _, dto := range dtos {
		entry, err := toEntry(dto)
		if err != nil {
			return 0, err
		}
		page = append(page, entry)
	}
	if entries != nil {
		*entries = append(*entries, page...)
	}

	l.metrics.RecordEntries(opGetErrors, len(page))
	l.logger.WithContext(ctx).WithFields(logrus.Fields{
		"log_id":     l.cfg.LogID(),
		"page_index": pageIndex,
		"page_size":  pageSize,
		"count":      len(page),
	}).Debug("Errors fetched")
	return len(page), nil
}

// logsURL 构造 {base}/api/logs?logId=...，extra 中的参数追加在 logId 之后（按键名排序）。
func (l *RemoteErrorLog) logsURL(extra url.Values) string {
	u := l.cfg.BaseURL() + "/api/logs?logId=" + url.QueryEscape(l.cfg.LogID())
	if len(extra) > 0 {
		u += "&" + extra.Encode()
	}
	return u
}

func (l *RemoteErrorLog) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("log.id", l.cfg.LogID()))
	return telemetry.StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

func toEntry(dto remoteEntry) (*domain.ErrorLogEntry, error) {
	e, err := domain.DecodeErrorXMLString(dto.ErrorXML)
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", dto.ID, err)
	}
	return domain.NewErrorLogEntry(dto.ID, e), nil
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
