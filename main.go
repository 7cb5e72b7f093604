package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run 执行一次 CLI 调用并返回退出码，方便测试。
func run(ctx context.Context, args []string) int {
	cli := newCLI()
	cli.SetArgs(args)
	cli.SetOutput(stdOut, stdErr)

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(stdErr, "错误: %v\n", err)
		return exitCode(err)
	}
	return 0
}
