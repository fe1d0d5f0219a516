package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/florianbuchner/whodoes/internal/cache"
	"github.com/florianbuchner/whodoes/internal/database"
	"github.com/florianbuchner/whodoes/internal/household"
	"github.com/florianbuchner/whodoes/internal/logging"
	"github.com/florianbuchner/whodoes/internal/mirror"
	"github.com/florianbuchner/whodoes/internal/realtime"
	"github.com/florianbuchner/whodoes/internal/remote"
	"github.com/florianbuchner/whodoes/internal/server"
	"github.com/florianbuchner/whodoes/internal/session"
)

func main() {
	logger := logging.Setup(os.Getenv("WHODOES_LOG_LEVEL"))

	dbPath := os.Getenv("WHODOES_DB_PATH")
	if dbPath == "" {
		dbPath = "whodoes.db"
	}

	remoteURL := os.Getenv("WHODOES_REMOTE_URL")
	if remoteURL == "" {
		log.Fatal("WHODOES_REMOTE_URL is required")
	}

	listenAddr := os.Getenv("WHODOES_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8787"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open mirror database: %v", err)
	}
	defer db.Close()

	sessions := session.NewStore(db)
	sess, err := sessions.Load()
	if err != nil {
		log.Fatalf("failed to load session: %v", err)
	}
	if !sess.Active() {
		logger.Info("no household joined yet; sync idle until setup completes")
	}

	gateway := remote.NewClient(remote.Config{
		BaseURL: remoteURL,
		Token:   os.Getenv("WHODOES_REMOTE_TOKEN"),
	})

	feedURL := os.Getenv("WHODOES_FEED_URL")
	if feedURL == "" {
		feedURL = remoteURL + "/realtime/v1"
	}

	queries := cache.New()
	store := mirror.NewStore(db)
	bridge := realtime.NewBridge(realtime.Config{
		URL:   feedURL,
		Token: os.Getenv("WHODOES_REMOTE_TOKEN"),
	}, queries, logger)

	srv := server.New(store, gateway, queries, sessions, household.NewService(gateway), bridge, probeInterval(), logger)
	srv.Start(context.Background(), sess)

	httpSrv := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}
	go func() {
		logger.Info("control api listening", "addr", listenAddr, "db", dbPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("control api: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	srv.Stop()
}

func probeInterval() time.Duration {
	raw := os.Getenv("WHODOES_PROBE_INTERVAL")
	if raw == "" {
		return 0 // engine default
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid WHODOES_PROBE_INTERVAL %q, using default", raw)
		return 0
	}
	return d
}
