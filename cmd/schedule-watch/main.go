package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/golang/glog"

	"github.com/schedule-sync/backend/internal/client"
)

const watchKey = "watch"

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the schedule server")
	token := flag.String("token", "", "Auth token (if the server requires it)")
	id := flag.String("id", "", "Schedule id to watch")
	name := flag.String("name", "watcher", "Display name shown to other participants")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()
	defer glog.Flush()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "schedule-watch: -id is required")
		flag.Usage()
		os.Exit(2)
	}
	if *noColor {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	replica := client.NewReplica()
	ws := client.NewWSClient(*wsURL, *token, replica)
	ws.Subscribe(client.Subscription{Key: watchKey, Channel: "schedule", ID: *id, Name: *name})

	changes := make(chan client.Change, 64)
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx, changes) }()

	for {
		select {
		case ch := <-changes:
			if ch.Err != nil {
				fmt.Fprintln(os.Stderr, errorText(ch.Err))
				continue
			}
			if ch.Key != watchKey {
				continue
			}
			var doc scheduleDoc
			if err := replica.Decode(watchKey, &doc); err != nil {
				fmt.Println(dimText("schedule closed"))
				continue
			}
			fmt.Print(render(doc, replica.Seq()))
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				glog.Errorf("watch stopped: %v", err)
				os.Exit(1)
			}
			return
		}
	}
}
