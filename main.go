// Package main is the entry point for the tdm node.
// It restores the ledger from SQLite, starts the block producer and serves
// the JSON-RPC and notification endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"tododapp.mini/tdm/internal/chain"
	"tododapp.mini/tdm/internal/config"
	"tododapp.mini/tdm/internal/docs"
	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/node"
	"tododapp.mini/tdm/internal/store"
	"tododapp.mini/tdm/internal/types"
)

const (
	metaPackageID  = "package_id"
	backupInterval = time.Hour
)

func main() {
	configPath := flag.String("config", "", "config file (TOML or JSON)")
	flag.Parse()

	log.Printf("tdm node %s (%s) starting...", types.Version, types.BuildTime)

	path := config.ResolvePath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		log.Printf("Warning: %v; using defaults", err)
	}

	// Initialize ledger store
	st, err := store.NewStore(cfg.DataFile)
	if err != nil {
		log.Fatalf("Failed to initialize ledger store: %v", err)
	}
	defer st.Close()
	log.Printf("Ledger store initialized at %s", st.Path())

	packageID, err := resolvePackageID(st, cfg.PackageID)
	if err != nil {
		log.Fatalf("Failed to resolve package id: %v", err)
	}
	log.Printf("INFO: Serving package %s on chain %s", packageID, cfg.ChainID)

	snapshot, err := st.Load()
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}
	l := ledger.New(packageID, ledger.WithPersister(st))
	l.Restore(snapshot)
	log.Printf("INFO: Restored %d lists, %d tasks, %d notifications",
		len(snapshot.Lists), len(snapshot.Tasks), len(snapshot.Notifications))

	app, err := chain.NewApp(l, chain.WithTxIndex(st))
	if err != nil {
		log.Fatalf("Failed to initialize chain application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := chain.NewNode(app, chain.NewEventBus(), cfg.BlockInterval.Duration)
	n.Start(ctx)

	if err := ensurePortAvailable(cfg.Port); err != nil {
		log.Fatalf("Port %d unavailable: %v", cfg.Port, err)
	}
	server := node.NewServer(n, node.Options{
		ChainID:    cfg.ChainID,
		Port:       cfg.Port,
		EnablePush: cfg.EnablePush,
		Docs:       docs.NewService(cfg.DocsDir),
	})
	server.Start()
	log.Printf("RPC available at http://localhost:%d/rpc (docs at /docs)", cfg.Port)

	go backupLoop(ctx, st, cfg.MaxBackups)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}
	n.Stop()
	if _, err := st.BackupCurrent(cfg.MaxBackups); err != nil {
		log.Printf("Warning: final backup failed: %v", err)
	}
	log.Println("Node stopped")
}

// resolvePackageID binds a data file to one package. The first start
// records the configured id, or a fresh one when none is configured.
func resolvePackageID(st *store.Store, configured string) (string, error) {
	stored, err := st.Meta(metaPackageID)
	if err != nil {
		return "", err
	}
	switch {
	case stored != "" && configured != "" && stored != configured:
		return "", fmt.Errorf("data file %s belongs to package %s, config names %s", st.Path(), stored, configured)
	case stored != "":
		return stored, nil
	}

	id := configured
	if id == "" {
		id = uuid.New().String()
		log.Printf("INFO: No package id configured, deployed new package %s", id)
	}
	if err := st.SetMeta(metaPackageID, id); err != nil {
		return "", err
	}
	return id, nil
}

// backupLoop snapshots the ledger periodically while it is changing.
func backupLoop(ctx context.Context, st *store.Store, maxBackups int) {
	ticker := time.NewTicker(backupInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.Updates():
			dirty = true
		case <-ticker.C:
			if !dirty {
				continue
			}
			if path, err := st.BackupCurrent(maxBackups); err != nil {
				log.Printf("Warning: ledger backup failed: %v", err)
			} else {
				log.Printf("INFO: Ledger backed up to %s", path)
				dirty = false
			}
		}
	}
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
