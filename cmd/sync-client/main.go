package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookreview/pkg/utils"
)

func main() {
	cfg, err := utils.Load("")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	defAddr := cfg.FeedTCPAddr
	if defAddr == "" {
		defAddr = "127.0.0.1:7070"
	}

	addr := flag.String("addr", defAddr, "TCP rating feed address")
	pretty := flag.Bool("pretty", true, "pretty print JSON events")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		err := run(ctx, *addr, os.Stdout, *pretty)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("feed disconnected", "addr", *addr, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func run(ctx context.Context, addr string, out io.Writer, pretty bool) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	slog.Info("feed connected", "addr", addr)
	return printEvents(conn, out, pretty)
}

// printEvents copies newline-delimited events from r to out until r ends.
func printEvents(r io.Reader, out io.Writer, pretty bool) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !pretty {
			fmt.Fprintln(out, string(line))
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			fmt.Fprintln(out, string(line))
			continue
		}
		b, _ := json.MarshalIndent(obj, "", "  ")
		fmt.Fprintln(out, string(b))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("feed closed by server")
}
