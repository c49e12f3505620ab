package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/agman/internal/cli"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// shutdownContext is cancelled on the first interrupt or SIGTERM. Running
// agents are killed and their tasks stopped when it fires.
func shutdownContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), shutdownSignals...)
}

func main() {
	ctx, stop := shutdownContext()
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
