package app

import (
	"context"
	"log/slog"
	"time"

	httpapp "authd/internal/app/http"
	"authd/internal/config"
	"authd/internal/lib/jwt"
	"authd/internal/services/auth"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/redisledger"
	"authd/internal/storage/sqlite"
)

type App struct {
	HTTPSrv *httpapp.App
}

func New(logger *slog.Logger, cfg *config.Config) *App {
	saver, provider, ledger := newStorage(cfg)

	if cfg.Redis.Addr != "" {
		redisLedger, err := redisledger.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			panic(err)
		}
		ledger = redisLedger
	}

	signer := jwt.NewSigner(cfg.SecretKey)

	authService := auth.New(
		logger,
		saver,
		provider,
		ledger,
		signer,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)

	httpApp := httpapp.New(logger, authService, cfg.HTTP.Port, cfg.HTTP.Timeout)

	return &App{
		HTTPSrv: httpApp,
	}
}

func newStorage(cfg *config.Config) (auth.UserSaver, auth.UserProvider, auth.TokenLedger) {
	switch cfg.Storage {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			panic(err)
		}
		return storage, storage, storage
	case "sqlite":
		storage, err := sqlite.New(cfg.StoragePath)
		if err != nil {
			panic(err)
		}
		return storage, storage, storage
	default:
		panic("unknown storage driver: " + cfg.Storage)
	}
}
