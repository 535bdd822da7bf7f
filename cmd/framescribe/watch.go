package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-framescribe/pkg/web"
)

// runWatch prints the server's frame feed, one JSON event per line, and
// reconnects when the connection drops.
func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	feed := fs.String("url", "ws://localhost:8080/ws/frames", "frame feed URL")
	run := fs.String("run", "", "follow only this run ID")
	content := fs.Bool("content", false, "print only frame content")
	fs.Parse(args)

	u, err := url.Parse(*feed)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if *run != "" {
		q := u.Query()
		q.Set("run", *run)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backoff := time.Second
	for {
		err := watch(ctx, u.String(), os.Stdout, *content)
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(os.Stderr, "feed lost: %v, retrying in %v\n", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func watch(ctx context.Context, feed string, w io.Writer, contentOnly bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, feed, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	enc := json.NewEncoder(w)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the feed")
			}
			return err
		}

		var ev web.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if !contentOnly {
			enc.Encode(ev)
			continue
		}
		if ev.Type == web.EventFrame && ev.Frame != nil {
			fmt.Fprintf(w, "[%s #%d] %s\n", ev.RunID, ev.Frame.FrameNumber, ev.Frame.Content)
		}
	}
}
