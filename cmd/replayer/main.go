package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kx0101/accesslog-replayer/internal/cli"
)

var executeFn = cli.Execute

func main() {
	os.Exit(int(run(os.Args[1:], os.Stdout, os.Stderr)))
}

// run executes the command line with a context cancelled by SIGINT or
// SIGTERM, so an interrupted replay ends as aborted and still reports.
func run(args []string, stdout, stderr io.Writer) cli.ExitCode {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeFn(ctx, args, stdout, stderr)
}
