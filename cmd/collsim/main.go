package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/collsim/internal/cmd"
	"github.com/danmuck/collsim/internal/observability"
)

func main() {
	observability.InitLogger("collsim")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "collsim: %v\n", err)
		os.Exit(1)
	}
}
