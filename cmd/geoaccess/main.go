/*
geoaccess 是数据源访问层的命令行入口：列出驱动与数据集、执行查询，
或以 MCP 服务器方式对外提供同样的能力。
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
