// Package main starts the condition-timer transparency service and handles
// termination.
//
// The process serves share link lifecycle, guarded acknowledgement writes,
// and realtime summary broadcasting for campaign groups.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	timerscmd "github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/cmd/timers"
)

func main() {
	cfg, err := timerscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[TIMERS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := timerscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
