// Command engined runs the filegpt engine behind an HTTP surface,
// grounded on the teacher's cmd/server/main.go: flag-configured listen
// address, structured JSON logging, environment overlay on top of a
// default config, and a middleware chain in front of a single mux.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mohammad-wq/filegpt"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", "", "Listen address (overrides config and FILEGPT_LISTEN)")
	flag.Parse()

	// Bring up a stderr-only logger first, for failures that happen
	// before cfg.LogPath() is known.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := filegpt.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	cfg = filegpt.ConfigFromEnv(cfg)
	if *addr != "" {
		cfg.Listen = *addr
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0o755); err != nil {
		slog.Error("creating log directory", "error", err)
		os.Exit(1)
	}
	logWriter := io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
	slog.SetDefault(slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	engine, err := filegpt.New(cfg, slog.Default())
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := engine.Start(startCtx); err != nil {
		startCancel()
		slog.Error("starting engine", "error", err)
		os.Exit(1)
	}
	startCancel()
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /ask_rag", h.handleAskRAG)
	mux.HandleFunc("POST /add_folder", h.handleAddFolder)
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /watched_folders", h.handleWatchedFolders)

	// Middleware chain: recovery -> rate limit -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = rateLimitMiddleware(h.engine, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("engined starting", "addr", cfg.Listen, "data_dir", cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down engined...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("engined stopped")
}
