// Package domain 定义了远程错误日志的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 这些错误用于在应用程序的不同层之间传递错误日志相关的错误信息。
// 调用方应使用 errors.Is 判断错误类别。

var (
	// ========== 配置相关错误 ==========

	// ErrMissingLogID 表示配置中缺少必需的 LogId
	ErrMissingLogID = errors.New("missing required setting: LogId")
	// ErrInvalidURL 表示远程 API 基础地址无效（必须是 http/https 绝对地址）
	ErrInvalidURL = errors.New("invalid api url")

	// ========== 反序列化相关错误 ==========

	// ErrMalformedResponse 表示远程 API 的响应无法解析为预期的 JSON 结构
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvalidErrorXML 表示错误 XML 无法解析为 Error
	ErrInvalidErrorXML = errors.New("invalid error xml")

	// ========== 参数相关错误 ==========

	// ErrInvalidEntryID 表示错误条目 ID 为空
	ErrInvalidEntryID = errors.New("invalid entry id")
	// ErrInvalidPage 表示分页参数无效（页码或页大小为负数）
	ErrInvalidPage = errors.New("invalid page: index and size must not be negative")

	// ========== 存储相关错误 ==========

	// ErrEntryNotFound 表示请求的错误条目不存在
	ErrEntryNotFound = errors.New("error entry not found")
	// ErrStorageConnection 表示存储连接错误（如数据库连接失败）
	ErrStorageConnection = errors.New("storage connection error")
	// ErrStorageQuery 表示存储查询错误（如 SQL 查询失败）
	ErrStorageQuery = errors.New("storage query error")
)
