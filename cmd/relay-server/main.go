package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tully-8888/video-chat-app/pkg/relay"
	"github.com/tully-8888/video-chat-app/pkg/transport"
)

type config struct {
	addr     string
	logLevel string
}

// loadConfig reads environment variables with flag overrides
func loadConfig() config {
	cfg := config{
		addr:     envOr("RELAY_ADDR", ":8080"),
		logLevel: envOr("RELAY_LOG_LEVEL", "info"),
	}
	flag.StringVar(&cfg.addr, "addr", cfg.addr, "listen address")
	flag.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "log level (trace, debug, info, warn, error)")
	flag.Parse()
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := loadConfig()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.logLevel); err == nil {
		l = l.Level(level)
	}

	registry := relay.NewRegistry()
	router := relay.NewRouter(registry)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ch, err := transport.Upgrade(w, req, nil)
		if err != nil {
			l.Warn().Err(err).Str("remote", req.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		l.Debug().Str("remote", req.RemoteAddr).Msg("channel opened")
		go func() {
			defer ch.Close()
			router.ServeChannel(ch)
		}()
	})

	srv := &http.Server{
		Addr:    cfg.addr,
		Handler: r,
	}

	go func() {
		l.Info().Str("addr", cfg.addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("listen failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("forced shutdown")
	}
	l.Info().
		Int("rooms", registry.RoomCount()).
		Int("participants", registry.ParticipantCount()).
		Msg("relay exited")
}
