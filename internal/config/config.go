// Package config 提供远程错误日志的配置管理功能。
// 配置以键/值设置的形式提供（与宿主框架的设置字典一致），在构造时读取一次，之后不可变。
// 支持通过环境变量覆盖 LogId 等配置项（包括 *_FILE 形式的密钥文件）。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/oriys/relog/internal/domain"
)

// 设置项的键名。查找时不区分大小写。
const (
	// KeyLogID 远程日志流标识（必需）
	KeyLogID = "LogId"
	// KeyURL 远程 API 的基础地址（可选）
	KeyURL = "Url"
	// KeyApplicationName 应用名称（可选），记录错误时若 Error 未设置则使用该值
	KeyApplicationName = "ApplicationName"
)

// DefaultURL 是未配置 Url 时使用的远程 API 基础地址。
const DefaultURL = "http://localhost:8080"

// LogConfiguration 是远程错误日志的不可变配置。
type LogConfiguration struct {
	logID           string
	baseURL         *url.URL
	applicationName string
}

// NewLogConfiguration 从键/值设置构造配置。
// LogId 缺失或为空时返回 domain.ErrMissingLogID；Url 不是 http/https 绝对地址时返回 domain.ErrInvalidURL。
//
// 参数：
//   - settings: 键/值设置，键名不区分大小写
//
// 返回值：
//   - *LogConfiguration: 构造完成的配置
//   - error: 配置错误
func NewLogConfiguration(settings map[string]string) (*LogConfiguration, error) {
	logID := strings.TrimSpace(lookup(settings, KeyLogID))
	if logID == "" {
		return nil, domain.ErrMissingLogID
	}

	rawURL := strings.TrimSpace(lookup(settings, KeyURL))
	if rawURL == "" {
		rawURL = DefaultURL
	}
	base, err := parseBaseURL(rawURL)
	if err != nil {
		return nil, err
	}

	return &LogConfiguration{
		logID:           logID,
		baseURL:         base,
		applicationName: strings.TrimSpace(lookup(settings, KeyApplicationName)),
	}, nil
}

// LogID 返回远程日志流标识。
func (c *LogConfiguration) LogID() string { return c.logID }

// ApplicationName 返回配置的应用名称，未配置时为空。
func (c *LogConfiguration) ApplicationName() string { return c.applicationName }

// BaseURL 返回远程 API 基础地址（不带末尾斜杠）。
func (c *LogConfiguration) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

// WithEnvOverrides 返回应用环境变量覆盖后的设置副本，原设置不会被修改。
// 支持两种方式：
// 1. 直接设置环境变量（如 RELOG_LOG_ID）
// 2. 通过 _FILE 后缀指定包含值的文件路径（如 RELOG_LOG_ID_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
func WithEnvOverrides(settings map[string]string) map[string]string {
	out := make(map[string]string, len(settings)+3)
	for k, v := range settings {
		out[k] = v
	}

	overrides := []struct {
		key     string
		envKeys []string
	}{
		{KeyLogID, []string{"RELOG_LOG_ID"}},
		{KeyURL, []string{"RELOG_URL", "RELOG_API_URL"}},
		{KeyApplicationName, []string{"RELOG_APPLICATION"}},
	}
	for _, o := range overrides {
		fileKeys := make([]string, 0, len(o.envKeys))
		for _, k := range o.envKeys {
			fileKeys = append(fileKeys, k+"_FILE")
		}
		if v := readEnvOrFileAny(o.envKeys, fileKeys); v != "" {
			deleteKey(out, o.key)
			out[o.key] = v
		}
	}
	return out
}

// lookup 不区分大小写地查找设置项。精确匹配优先。
func lookup(settings map[string]string, key string) string {
	if v, ok := settings[key]; ok {
		return v
	}
	for k, v := range settings {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func deleteKey(settings map[string]string, key string) {
	for k := range settings {
		if strings.EqualFold(k, key) {
			delete(settings, k)
		}
	}
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", domain.ErrInvalidURL, raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// readEnvOrFileAny 从环境变量或文件读取配置值。
// 优先从 fileKeys 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKeys 指定的环境变量读取。
//
// 参数：
//   - envKeys: 直接存储值的环境变量名（按优先级从高到低）
//   - fileKeys: 存储文件路径的环境变量名（按优先级从高到低）
//
// 返回值：
//   - string: 读取到的配置值，如果都未设置则返回空字符串
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}

	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}

	return ""
}
