package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// @title Bug Report API
// @version 1.0.0
// @description Bug report tracking for students and instructors
// @BasePath /api/v1
// @schemes http

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
