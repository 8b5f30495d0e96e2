package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wfunc/xoserver/config"
	"github.com/wfunc/xoserver/logger"
	"github.com/wfunc/xoserver/persistence"
	"github.com/wfunc/xoserver/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	// Initialize Database
	db, err := persistence.Open(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
		logger.Log.Infow("Database connection successful.", "driver", cfg.Database.Driver)
	} else {
		logger.Log.Info("Persistence disabled, games and chat will not be archived.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg, db)
	logger.Log.Infof("Starting game server on %s (rpc %s)", cfg.Server.HTTPAddress, cfg.Server.RPCAddress)
	if err := gameServer.Run(ctx); err != nil {
		logger.Log.Errorf("Server stopped: %v", err)
		return
	}
	logger.Log.Info("Server stopped.")
}
