// Package cmd 提供 relog 命令行工具的所有子命令实现。
// 本文件实现 tail 命令，用于持续输出新记录的错误。
//
// 两种模式：
//   - 轮询（默认）：按 --interval 读取第 0 页，输出之前未见过的条目
//   - 事件（--events）：订阅 NATS 上的 error.logged 事件
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/errorlog"
	"github.com/oriys/relog/internal/events"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow newly logged errors",
	Long: `Follow newly logged errors until interrupted.

By default the newest page is polled at a fixed interval and errors not seen
in the previous poll are printed, oldest first. With --events the command
subscribes to error.logged events on NATS instead (requires --nats-url).

Examples:
  relog tail
  relog tail --interval 10s --size 50
  relog tail --events --nats-url nats://localhost:4222
  relog tail --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runTail,
}

var tailFlags struct {
	interval    time.Duration
	size        int
	events      bool
	metricsAddr string
}

func init() {
	rootCmd.AddCommand(tailCmd)

	f := tailCmd.Flags()
	f.DurationVarP(&tailFlags.interval, "interval", "i", 5*time.Second, "Polling interval")
	f.IntVarP(&tailFlags.size, "size", "n", 15, "Number of newest errors read per poll")
	f.BoolVar(&tailFlags.events, "events", false, "Follow error.logged events on NATS instead of polling")
	f.StringVar(&tailFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while tailing")
}

func runTail(cmd *cobra.Command, args []string) error {
	if tailFlags.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if tailFlags.size <= 0 {
		return fmt.Errorf("--size must be positive")
	}

	printer, err := NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if tailFlags.metricsAddr != "" {
		shutdown := serveMetrics(tailFlags.metricsAddr)
		defer shutdown()
	}

	if tailFlags.events {
		if s.bus == nil {
			return fmt.Errorf("--events requires --nats-url")
		}
		return followEvents(ctx, s, printer)
	}
	return pollErrors(ctx, s.log, printer)
}

// pollErrors 周期性读取最新一页并输出新条目，直到 ctx 结束
func pollErrors(ctx context.Context, log errorlog.ErrorLog, printer *Printer) error {
	seen := make(map[string]struct{})
	first := true

	poll := func() error {
		var entries []*domain.ErrorLogEntry
		if _, err := log.GetErrors(ctx, 0, tailFlags.size, &entries); err != nil {
			return err
		}

		fresh := make([]*domain.ErrorLogEntry, 0, len(entries))
		current := make(map[string]struct{}, len(entries))
		// 页内从新到旧，输出时反转为从旧到新
		for i := len(entries) - 1; i >= 0; i-- {
			entry := entries[i]
			current[entry.ID] = struct{}{}
			if _, ok := seen[entry.ID]; !ok || first {
				fresh = append(fresh, entry)
			}
		}
		seen = current
		first = false
		return printer.PrintStreamEntries(fresh)
	}

	ticker := time.NewTicker(tailFlags.interval)
	defer ticker.Stop()

	for {
		if err := poll(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("Failed to poll errors")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// followEvents 订阅当前日志流的 error.logged 事件，直到 ctx 结束
func followEvents(ctx context.Context, s *session, printer *Printer) error {
	logID := errorlog.LogIdentity(s.log)
	err := s.bus.SubscribeErrorLogged(ctx, logID, func(ev *events.ErrorLogged) error {
		return printer.PrintEvent(ev)
	})
	if err != nil {
		return err
	}

	logger.WithField("log_id", logID).Info("Following error.logged events")
	<-ctx.Done()
	return nil
}

// serveMetrics 在 addr 上暴露 /metrics，返回关闭函数
func serveMetrics(addr string) func() {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("addr", addr).Error("Metrics server failed")
		}
	}()
	logger.WithFields(logrus.Fields{"addr": addr}).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
