// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义错误日志相关指标（远程请求、拉取的条目数），便于各个 ErrorLog 实现复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 请求结果标签值
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics 封装错误日志指标集合。
//
// 指标分类:
//   - 请求指标: 跟踪远程 API 请求的数量和耗时
//   - 条目指标: 统计拉取到的错误条目数量
type Metrics struct {
	// RequestsTotal 远程请求总次数计数器
	// 标签: operation (log/get_error/get_errors), status (success/error)
	RequestsTotal *prometheus.CounterVec

	// RequestDuration 远程请求耗时直方图（单位：毫秒）
	// 标签: operation
	RequestDuration *prometheus.HistogramVec

	// EntriesFetched 拉取到的错误条目计数器
	// 标签: operation
	EntriesFetched *prometheus.CounterVec
}

// NewMetrics 创建一组指标并注册到 reg。
// namespace 用于作为所有指标名前缀；reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Total number of requests sent to the remote error log API",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_ms",
				Help:      "Remote error log API request duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"operation"},
		),
		EntriesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_fetched_total",
				Help:      "Total number of error entries read from an error log",
			},
			[]string{"operation"},
		),
	}
}

// RecordRequest 记录一次远程请求。err 为空时记为 success，否则记为 error。
// m 为 nil 时不做任何事。
func (m *Metrics) RecordRequest(operation string, durationMs float64, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationMs)
}

// RecordEntries 记录一次读取返回的条目数。
func (m *Metrics) RecordEntries(operation string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntriesFetched.WithLabelValues(operation).Add(float64(n))
}
