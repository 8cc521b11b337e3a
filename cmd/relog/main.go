// Package main 是 relog 命令行工具的入口点。
// relog 用于向远程错误日志 API（或本地存储）记录、查询和跟踪错误。
package main

import (
	"os"

	"github.com/oriys/relog/cmd/relog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
