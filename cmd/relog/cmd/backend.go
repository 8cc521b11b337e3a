package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	"github.com/oriys/relog/internal/config"
	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
	"github.com/oriys/relog/internal/events"
	"github.com/oriys/relog/internal/metrics"
	"github.com/oriys/relog/internal/storage/postgres"
	"github.com/oriys/relog/internal/storage/redis"
	"github.com/oriys/relog/internal/webclient"
)

// 支持的存储后端
const (
	backendRemote   = "remote"
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// registry 汇总 CLI 进程内的指标，由 tail --metrics-addr 暴露
var registry = newRegistry()

// cliMetrics 是远程错误日志使用的指标采集器
var cliMetrics = metrics.NewMetrics("relog", registry)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// session 是一次命令执行期间打开的错误日志及其附属资源
type session struct {
	log     errorlog.ErrorLog
	bus     *events.EventBus
	closers []func() error
}

// Close 按打开的逆序释放资源
func (s *session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSession 根据 --backend 打开错误日志；设置了 --nats-url 时为其挂上事件通知。
func openSession(ctx context.Context) (*session, error) {
	s := &session{}

	log, closer, err := openErrorLog(ctx)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	s.log = log

	if natsURL := viper.GetString("nats_url"); natsURL != "" {
		bus, err := events.NewEventBus(natsURL, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.bus = bus
		s.closers = append(s.closers, bus.Close)
		s.log = errorlog.WithNotifier(log, bus, logger)
	}
	return s, nil
}

// logSettings 合并日志流设置。
// 优先级：显式给出的命令行标志 > 环境变量（_FILE 优先）> 配置文件。
func logSettings() map[string]string {
	settings := config.WithEnvOverrides(map[string]string{})
	for _, s := range []struct{ flag, key string }{
		{"log-id", config.KeyLogID},
		{"api-url", config.KeyURL},
		{"application", config.KeyApplicationName},
	} {
		if f := rootCmd.PersistentFlags().Lookup(s.flag); f != nil && f.Changed {
			settings[s.key] = f.Value.String()
			continue
		}
		// viper 的 AutomaticEnv 也会读到不带 _FILE 的环境变量
		if _, fromEnv := settings[s.key]; fromEnv {
			continue
		}
		if v := viper.GetString(strings.ReplaceAll(s.flag, "-", "_")); v != "" {
			settings[s.key] = v
		}
	}
	return settings
}

func openErrorLog(ctx context.Context) (errorlog.ErrorLog, func() error, error) {
	settings := logSettings()
	logID := settings[config.KeyLogID]

	switch backend := viper.GetString("backend"); backend {
	case backendRemote, "":
		factory := webclient.NewFactory(webclient.Options{Logger: logger})
		log, err := errorlog.NewRemoteFromSettings(settings, factory,
			errorlog.WithLogger(logger),
			errorlog.WithMetrics(cliMetrics),
		)
		if err != nil {
			return nil, nil, err
		}
		return log, nil, nil

	case backendMemory:
		return errorlog.NewMemory(errorlog.DefaultMemorySize), nil, nil

	case backendPostgres:
		if logID == "" {
			return nil, nil, domain.ErrMissingLogID
		}
		log, err := postgres.Open(ctx, viper.GetString("postgres_dsn"), logID, logger)
		if err != nil {
			return nil, nil, err
		}
		return log, log.Close, nil

	case backendRedis:
		if logID == "" {
			return nil, nil, domain.ErrMissingLogID
		}
		log, err := redis.Open(ctx, viper.GetString("redis_addr"), logID, viper.GetInt("redis_max_len"), logger)
		if err != nil {
			return nil, nil, err
		}
		return log, log.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want remote, memory, postgres or redis)", backend)
	}
}
