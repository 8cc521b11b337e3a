// Package events 提供错误日志事件总线。
// 当前实现基于 NATS JetStream，在错误被记录后发布 "error.logged" 事件，并支持按日志流订阅。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/oriys/relog/internal/domain"
)

const (
	// StreamName 是错误事件使用的 JetStream Stream
	StreamName = "ERROR_EVENTS"
	// SubjectPrefix 是所有错误事件 subject 的前缀
	SubjectPrefix = "errorlog"
	// EventTypeErrorLogged 是错误被记录后发布的事件类型
	EventTypeErrorLogged = "error.logged"
	// EventSource 是本进程发布事件时的来源标识
	EventSource = "relog"
)

// EventBus 封装 NATS/JetStream 连接与常用发布/订阅操作。
type EventBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// Event 表示错误日志事件（JSON 格式）。
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorLogged 是 error.logged 事件的负载。
type ErrorLogged struct {
	ID         string    `json:"id"`
	LogID      string    `json:"log_id"`
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Host       string    `json:"host,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Time       time.Time `json:"time"`
}

// EventHandler 定义事件处理回调。
type EventHandler func(event *Event) error

// NewEventBus 创建 EventBus 并初始化所需的 JetStream Stream。
func NewEventBus(natsURL string, logger *logrus.Logger) (*EventBus, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name(EventSource),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour * 7, // 保留 7 天
	}
	if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		// Stream 已存在但配置不同时尝试更新
		if _, uerr := js.UpdateStream(cfg); uerr != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", StreamName, err)
		}
	}

	return &EventBus{
		conn:   nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close 关闭底层 NATS 连接。
func (eb *EventBus) Close() error {
	eb.conn.Close()
	return nil
}

// Publish 发布事件到指定 subject。
func (eb *EventBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = eb.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.WithContext(ctx).WithFields(logrus.Fields{
		"subject":  subject,
		"event_id": event.ID,
		"type":     event.Type,
	}).Debug("Event published")

	return nil
}

// Subscribe 订阅匹配 subject 的事件（支持通配符），只投递订阅之后发布的事件。
// ctx 取消时将自动取消订阅。
func (eb *EventBus) Subscribe(ctx context.Context, subject string, handler EventHandler) error {
	sub, err := eb.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			eb.logger.WithError(err).Error("Failed to unmarshal event")
			msg.Term()
			return
		}

		if err := handler(&event); err != nil {
			eb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to handle event")
			msg.Nak()
			return
		}

		msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// SubscribeErrorLogged 订阅 logID 日志流的 error.logged 事件；logID 为空时订阅所有日志流。
func (eb *EventBus) SubscribeErrorLogged(ctx context.Context, logID string, handler func(*ErrorLogged) error) error {
	subject := SubjectPrefix + ".*.logged"
	if logID != "" {
		subject = ErrorLoggedSubject(logID)
	}
	return eb.Subscribe(ctx, subject, func(event *Event) error {
		if event.Type != EventTypeErrorLogged {
			return nil
		}
		var payload ErrorLogged
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			// 无法解析的负载重投也不会成功，直接忽略
			eb.logger.WithError(err).WithField("event_id", event.ID).Warn("Invalid error.logged payload")
			return nil
		}
		return handler(&payload)
	})
}

// PublishErrorLogged 发布“错误已记录”事件。
func (eb *EventBus) PublishErrorLogged(ctx context.Context, logID string, entry *domain.ErrorLogEntry) error {
	event, err := NewErrorLoggedEvent(logID, entry)
	if err != nil {
		return err
	}
	return eb.Publish(ctx, event.Subject, event)
}

// ErrorLogged 实现 errorlog.Notifier。
func (eb *EventBus) ErrorLogged(ctx context.Context, logID string, entry *domain.ErrorLogEntry) error {
	return eb.PublishErrorLogged(ctx, logID, entry)
}

// NewErrorLoggedEvent 构造 error.logged 事件。
func NewErrorLoggedEvent(logID string, entry *domain.ErrorLogEntry) (*Event, error) {
	if entry == nil || entry.Error == nil {
		return nil, fmt.Errorf("%w: nil entry", domain.ErrInvalidErrorXML)
	}
	data, err := json.Marshal(ErrorLogged{
		ID:         entry.ID,
		LogID:      logID,
		Type:       entry.Error.Type,
		Message:    entry.Error.Message,
		Host:       entry.Error.HostName,
		StatusCode: entry.Error.StatusCode,
		Time:       entry.Error.Time,
	})
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeErrorLogged,
		Source:    EventSource,
		Subject:   ErrorLoggedSubject(logID),
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ErrorLoggedSubject 返回 logID 对应的 subject：errorlog.<logID>.logged。
// logID 中的 '.'、'*'、'>' 和空白在 subject 中替换为 '_'。
func ErrorLoggedSubject(logID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, logID)
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + "." + token + ".logged"
}
