package httpapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	authhttp "authd/internal/http/auth"
)

type App struct {
	logger *slog.Logger
	server *http.Server
	port   int
}

func New(
	logger *slog.Logger,
	authService authhttp.Auth,
	port int,
	timeout time.Duration,
) *App {
	mux := http.NewServeMux()
	authhttp.Register(mux, logger, authService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	return &App{
		logger: logger,
		server: server,
		port:   port,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	log.Info("HTTP server is running", slog.String("address", a.server.Addr))

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping HTTP server", slog.Int("port", a.port))

	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
