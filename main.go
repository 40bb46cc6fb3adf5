package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"conchat/internal/auth"
	"conchat/internal/chat"
	"conchat/internal/httpapi"
	"conchat/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	args := os.Args[1:]

	// Admin subcommands run against the database directly, without a
	// server. Everything else is run_server.
	if len(args) > 0 && args[0] != "run_server" {
		if RunCLI(args) {
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}
	if len(args) > 0 {
		args = args[1:] // strip the literal run_server
	}

	fs := flag.NewFlagSet("run_server", flag.ExitOnError)
	host := fs.String("host", "127.0.0.1", "Chat listen host")
	port := fs.Int("port", 5001, "Chat listen port")
	dbPath := fs.String("db", "conchat.db", "SQLite database path")
	apiAddr := fs.String("api", "127.0.0.1:5002", "Admin API listen address (empty disables)")
	debug := fs.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	_ = fs.Parse(args)

	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	addr := fmt.Sprintf("%s:%d", *host, *port)
	slog.Info("starting server", "version", Version, "addr", addr, "db", *dbPath)

	st, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("close store", "err", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := chat.NewRegistry(ctx, st)
	if err != nil {
		slog.Error("initialize room registry", "err", err)
		os.Exit(1)
	}

	server := chat.New(st, registry, auth.NewHasher(0))

	if *apiAddr != "" {
		api := httpapi.New(Version, server, st)
		go api.Run(ctx, *apiAddr)
		slog.Info("admin api listening", "addr", *apiAddr)
	}

	go RunMetrics(ctx, server, time.Minute)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	if err := server.ListenAndServe(ctx, addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
