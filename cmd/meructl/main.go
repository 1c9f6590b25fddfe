// Package main 是 meru 的运维命令行工具。
package main

import (
	"fmt"
	"os"
)

// 构建时注入的版本信息
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
