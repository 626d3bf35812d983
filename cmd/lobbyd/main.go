// Lobbyd: lobby server for meshlobby peers.
//
// It keeps the session directory in memory, relays link signaling between
// members of the same session, and exposes Prometheus metrics. Game traffic
// never passes through it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/meshlobby/internal/config"
	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	listen := flag.String("listen", "", "Address to listen on (default from config, :8080)")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if closer := setupLogging(cfg.Log, *debugMode); closer != nil {
		defer closer()
	}
	if *listen != "" {
		cfg.Lobby.Listen = *listen
	}

	pterm.Info.Println(fmt.Sprintf("meshlobby lobbyd — v%s", version))
	pterm.Println()

	dir := lobby.NewDirectory()
	srv := &http.Server{
		Addr:              cfg.Lobby.Listen,
		Handler:           lobby.NewServer(dir, cfg.Lobby.MetricsPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	util.LogSuccess("lobby listening on %s (ws: /ws, metrics: %s)", cfg.Lobby.Listen, cfg.Lobby.MetricsPath)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			util.LogError("lobby server failed: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.LogWarning("shutdown: %v", err)
	}
	util.LogInfo("lobby closed with %d session(s) and %d peer(s) registered", dir.Lobbies(), dir.Peers())
}

func setupLogging(cfg config.LogConfig, debug bool) func() {
	if err := util.SetLevel(cfg.Level); err != nil {
		util.LogWarning("%v", err)
	}
	if debug {
		util.EnableDebug()
	}
	if cfg.File == "" {
		return nil
	}
	file := util.SetLogFile(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
	return func() { _ = file.Close() }
}
