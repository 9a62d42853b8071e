package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartpush/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := app.NewApp(cfgPath, app.Options{})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopReasonManual
	select {
	case <-ctx.Done():
		reason = app.StopReasonSignal
	case <-eng.Done():
		if eng.Err() != nil {
			reason = app.StopReasonError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = eng.Stop(stopCtx, reason)

	if err := eng.Err(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
