package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"carbon-gocli/internal/cli"
	"carbon-gocli/internal/dotenv"
)

func main() {
	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[warn] %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
