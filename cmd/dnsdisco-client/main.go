package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/quietsignal/dnsdisco"
)

func main() {
	var (
		domain   = flag.String("domain", dnsdisco.DefaultDomain, "domain suffix topic ids are rendered under")
		trackers = flag.String("trackers", "", "comma-separated list of trackers, host[:port[,secondaryPort]]")
		id       = flag.String("id", "", "topic id, hex-encoded")
		port     = flag.Int("port", 0, "port to announce/unannounce (ignored for lookup/whoami)")
		implied  = flag.Bool("implied-port", false, "announce/unannounce with the implied-port flag set")
		timeout  = flag.Duration("timeout", 5*time.Second, "operation timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dnsdisco-client [flags] <announce|unannounce|lookup|whoami>")
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	if *trackers == "" {
		fmt.Fprintln(os.Stderr, "at least one -trackers address is required")
		os.Exit(2)
	}
	trackerAddrs := strings.Split(*trackers, ",")

	inst, err := dnsdisco.New(
		dnsdisco.WithDomain(*domain),
		dnsdisco.WithTrackers(trackerAddrs),
		dnsdisco.WithImpliedPort(*implied),
		dnsdisco.WithErrorHandler(func(err error) {
			logger.Warn("internal error", "error", err)
		}),
	)
	if err != nil {
		logger.Error("init instance", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = inst.Close()
	}()

	events := inst.Subscribe(64)
	go func() {
		for ev := range events {
			if ev.Kind == dnsdisco.EventPeer {
				fmt.Printf("peer %s: %s:%d\n", ev.Topic, ev.Peer.Host, ev.Peer.Port)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if cmd == "whoami" {
		runWhoami(ctx, inst, logger)
		return
	}

	rawID, err := hex.DecodeString(*id)
	if err != nil || len(rawID) == 0 {
		fmt.Fprintln(os.Stderr, "-id must be a non-empty hex string")
		os.Exit(2)
	}

	switch cmd {
	case "announce":
		err = inst.Announce(ctx, rawID, *port)
	case "unannounce":
		err = inst.Unannounce(ctx, rawID, *port)
	case "lookup":
		err = inst.Lookup(ctx, rawID)
		// Lookup's matches stream in on the event channel above; give the
		// fan-out a moment to collect replies before the process exits.
		time.Sleep(250 * time.Millisecond)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, "error", err)
		os.Exit(1)
	}
}

func runWhoami(ctx context.Context, inst *dnsdisco.Instance, logger *slog.Logger) {
	info, err := inst.Whoami(ctx)
	if err != nil {
		logger.Error("whoami", "error", err)
		os.Exit(1)
	}
	fmt.Printf("%s:%d\n", info.Host, info.Port)
}
