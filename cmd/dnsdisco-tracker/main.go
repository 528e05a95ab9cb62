package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quietsignal/dnsdisco"
)

func main() {
	var (
		domain    = flag.String("domain", dnsdisco.DefaultDomain, "domain suffix topic ids are rendered under")
		port      = flag.Int("port", 53, "primary unicast port to bind")
		secondary = flag.Int("secondary-port", 5300, "secondary unicast port to bind")
		trackers  = flag.String("trackers", "", "comma-separated list of peer trackers to also fan out to, host[:port[,secondaryPort]]")
		multicast = flag.Bool("multicast", true, "enable the mDNS transport leg")
		beacon    = flag.Bool("beacon", true, "register an operator-visibility zeroconf beacon")
		verbose   = flag.Bool("v", false, "debug-level logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var trackerAddrs []string
	if *trackers != "" {
		trackerAddrs = strings.Split(*trackers, ",")
	}

	inst, err := dnsdisco.New(
		dnsdisco.WithDomain(*domain),
		dnsdisco.WithTrackers(trackerAddrs),
		dnsdisco.WithMulticast(*multicast),
		dnsdisco.WithBeacon(*beacon),
		dnsdisco.WithErrorHandler(func(err error) {
			logger.Error("internal error", "error", err)
		}),
	)
	if err != nil {
		logger.Error("init instance", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := inst.Close(); err != nil {
			logger.Error("close instance", "error", err)
		}
	}()

	events := inst.Subscribe(64)
	go func() {
		for ev := range events {
			logEvent(logger, ev)
		}
	}()

	if err := inst.Listen(*port, *secondary); err != nil {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	logger.Info("tracker listening", "domain", *domain, "port", *port, "secondaryPort", *secondary)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	dumpStore(logger, inst)
}

func logEvent(logger *slog.Logger, ev dnsdisco.Event) {
	switch ev.Kind {
	case dnsdisco.EventPeer:
		logger.Debug("peer observed", "topic", ev.Topic, "host", ev.Peer.Host.String(), "port", ev.Peer.Port)
	case dnsdisco.EventError:
		logger.Warn("transport error", "error", ev.Err)
	case dnsdisco.EventListening:
		logger.Debug("listening event")
	case dnsdisco.EventClose:
		logger.Debug("close event")
	}
}

func dumpStore(logger *slog.Logger, inst *dnsdisco.Instance) {
	raw, err := inst.ToJSON()
	if err != nil {
		logger.Warn("dump store", "error", err)
		return
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		os.Stdout.Write(out)
		os.Stdout.Write([]byte("\n"))
		return
	}
	os.Stdout.Write(raw)
}
