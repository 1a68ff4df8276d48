// Command syncserver stores per-user client data so loops and system memos
// follow a player across devices.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"molt/internal/config"
	"molt/internal/log"
	"molt/internal/proxy/database"
	"molt/internal/userdata"
)

func main() {
	var configPath string
	var listen string

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/molt/config.yml)")
	flag.StringVar(&listen, "listen", "", "listen address (overrides sync-listen)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.SyncListen = listen
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log.SetDebug(cfg.Debug)

	var backend userdata.Backend
	if cfg.SyncDataDir != "" {
		db := database.NewDatabase()
		path := filepath.Join(cfg.SyncDataDir, "userdata.db")
		if err := db.CreateDatabase(path); err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer db.CloseDatabase()
		backend = db
		log.Info("sync storage ready", "path", path)
	} else {
		log.Warn("sync-data-dir not set, every request will get 503")
	}

	server := userdata.NewServer(cfg.SyncListen, backend)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start sync server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Stop()
	})
	return g.Wait()
}
