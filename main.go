// Command taskmanager runs the task manager HTTP API.
//
//	taskmanager serve     start the HTTP server
//	taskmanager migrate   apply PostgreSQL migrations and exit
//
// Configuration comes from the environment; a .env file in the working
// directory is loaded first if present.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/user/taskmanager-go/config"
	"github.com/user/taskmanager-go/db"
	"github.com/user/taskmanager-go/logging"
	"github.com/user/taskmanager-go/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: error loading .env file: %v", err)
	}

	app := &cli.App{
		Name:  "taskmanager",
		Usage: "task manager HTTP API",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply PostgreSQL schema migrations",
				Action: migrateUp,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads configuration and builds the logger every command needs.
func setup() (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	stores, err := server.OpenStores(c.Context, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	app := server.Assemble(stores, cfg, server.NewNotifier(cfg.Mail, logger), logger)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout + 5*time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr), zap.String("db_driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("server shutting down", zap.String("signal", sig.String()))
	case err, ok := <-serveErr:
		if ok {
			_ = app.Close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	// The dispatcher stops after the server so emails queued by in-flight
	// requests are still sent.
	if err := app.Close(ctx); err != nil {
		logger.Error("shutdown cleanup failed", zap.Error(err))
	}
	logger.Info("server stopped gracefully")
	return nil
}

func migrateUp(*cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.Driver != config.DriverPostgres {
		logger.Info("nothing to migrate", zap.String("db_driver", cfg.Database.Driver))
		return nil
	}
	if err := db.RunMigrations(cfg.Database.Postgres, logger); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
