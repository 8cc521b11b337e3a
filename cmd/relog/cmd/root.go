// Package cmd 包含 relog CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oriys/relog/internal/telemetry"
)

// 全局命令行标志变量
var cfgFile string // 配置文件路径

// logger 是 CLI 使用的 logrus 实例，输出到 stderr
var logger = logrus.New()

// tel 是当前命令的遥测实例，在 PersistentPreRunE 中初始化
var tel *telemetry.Telemetry

// rootCmd 是 CLI 的根命令
// 所有子命令都挂载在这个根命令下
var rootCmd = &cobra.Command{
	Use:   "relog",
	Short: "relog - remote error log client",
	Long: `relog 用于向远程错误日志 API 记录错误，并查询、跟踪已记录的错误。

使用示例:
  # 记录一个错误
  relog log --log-id 1d6a... --type System.ApplicationException --message "payment failed"

  # 从 XML 文件记录错误
  relog log --file error.xml

  # 查看单条错误
  relog get 42

  # 分页列出错误
  relog list --page 0 --size 20 -o json

  # 跟踪新错误
  relog tail --interval 5s`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupCommand,
	PersistentPostRunE: teardownCommand,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "配置文件路径（默认为 $HOME/.relog.yaml）")
	flags.StringP("api-url", "u", "", "远程错误日志 API 地址（默认为 http://localhost:8080）")
	flags.String("log-id", "", "日志流标识")
	flags.String("application", "", "应用名称，记录错误时填充到未设置应用名的错误上")
	flags.String("backend", "remote", "存储后端（remote、memory、postgres、redis）")
	flags.String("postgres-dsn", "", "PostgreSQL 连接串（backend=postgres）")
	flags.String("redis-addr", "", "Redis 地址（backend=redis）")
	flags.Int("redis-max-len", 0, "Redis 中每个日志流保留的最大条数，0 表示不限制")
	flags.String("nats-url", "", "NATS 地址；设置后每次记录错误都会发布 error.logged 事件")
	flags.StringP("output", "o", "table", "输出格式（table、json、yaml、xml）")
	flags.String("log-level", "warn", "日志级别（debug、info、warn、error）")
	flags.String("log-format", "text", "日志格式（text、json）")
	flags.String("trace-endpoint", "", "OTLP gRPC 端点，设置后启用追踪")

	// 将标志绑定到 viper 配置
	for _, name := range []string{
		"api-url", "log-id", "application", "backend", "postgres-dsn", "redis-addr",
		"redis-max-len", "nats-url", "output", "log-level", "log-format", "trace-endpoint",
	} {
		viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

// initConfig 初始化配置
// 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".relog")
	}

	// 环境变量格式：RELOG_<KEY>，如 RELOG_API_URL
	viper.SetEnvPrefix("RELOG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "failed to read config %s: %v\n", cfgFile, err)
		}
	}
}

// setupCommand 配置日志与追踪
func setupCommand(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())

	switch viper.GetString("log_format") {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q", viper.GetString("log_format"))
	}

	endpoint := viper.GetString("trace_endpoint")
	tel, err = telemetry.New(commandContext(cmd), telemetry.Config{
		Enabled:     endpoint != "",
		Endpoint:    endpoint,
		ServiceName: "relog",
		SampleRate:  1.0,
	})
	if err != nil {
		return err
	}
	if tel.IsEnabled() {
		logger.AddHook(telemetry.NewLogrusHook())
	}
	return nil
}

// teardownCommand 刷新并关闭追踪
func teardownCommand(cmd *cobra.Command, args []string) error {
	if tel == nil {
		return nil
	}
	err := tel.Shutdown(context.Background())
	tel = nil
	return err
}

// commandContext 返回命令的 context，未设置时返回 Background
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
