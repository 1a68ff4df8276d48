package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"molt/internal/config"
	"molt/internal/log"
	"molt/internal/proxy"
	"molt/internal/proxy/database"
	"molt/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/molt/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("molt %s (%s, built %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("GLOBAL PANIC recovered", "error", r, "stack", string(debug.Stack()))
			fmt.Fprintf(os.Stderr, "Application crashed. See %s for details.\n", cfg.LogFile)
			os.Exit(1)
		}
	}()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := log.SetFileOutput(cfg.LogFile); err != nil {
		fmt.Printf("Warning: Could not configure debug logging to file: %v\n", err)
	}
	defer log.Close()
	log.SetDebug(cfg.Debug)
	if err := log.EnableRawLog(cfg.RawLog); err != nil {
		fmt.Printf("Warning: Could not open raw frame log: %v\n", err)
	}
	log.Info("starting", "version", version, "config", cfg.ConfigPath)

	opts := proxy.Options{
		Backoff: transport.Backoff{
			Base:   cfg.ReconnectBase,
			Max:    cfg.ReconnectMax,
			Factor: cfg.ReconnectFactor,
		},
		ActionHold:   cfg.ActionHold,
		RouteMaxHops: cfg.RouteMaxHops,
		SyncURL:      cfg.SyncURL,
		SyncDebounce: cfg.SyncDebounce,
	}

	db := database.NewDatabase()
	if err := db.CreateDatabase(cfg.DBPath); err != nil {
		log.Warn("running without local storage", "path", cfg.DBPath, "error", err)
		fmt.Printf("Warning: loops will not be saved: %v\n", err)
	} else {
		defer db.CloseDatabase()
		opts.DB = db
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	console := newConsole(os.Stdin, os.Stdout, interactive)
	session := proxy.New(console, opts)
	console.attach(session)
	defer session.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return console.printLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		return console.readLoop(gctx)
	})

	go func() {
		if err := session.Connect(cfg.ServerURL); err != nil {
			console.printf("Connect failed: %v (retrying)", err)
		}
		if cfg.Username != "" && cfg.Password != "" {
			session.Login(cfg.Username, cfg.Password)
		}
	}()

	return g.Wait()
}
