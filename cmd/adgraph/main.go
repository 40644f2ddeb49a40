package main

import (
	"context"
	"os"

	"github.com/yungbote/adgraph/internal/cli"
	"github.com/yungbote/adgraph/internal/platform/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	code := cli.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
