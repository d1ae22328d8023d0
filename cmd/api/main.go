package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/urbanbyte/portaria/internal/auth"
	"github.com/urbanbyte/portaria/internal/config"
	"github.com/urbanbyte/portaria/internal/db"
	"github.com/urbanbyte/portaria/internal/events"
	internalhttp "github.com/urbanbyte/portaria/internal/http"
	"github.com/urbanbyte/portaria/internal/repo"
	"github.com/urbanbyte/portaria/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	repository := repo.New(pool)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	papeis := service.NewPapelService(repository, redisClient)
	authService := service.NewAuthService(repository, pool, redisClient, jwtManager, papeis, cfg.JWTRefreshTTL)

	bus := events.NewBus()
	ponte := events.NewPonte(redisClient, bus)

	handler, visitanteService, err := internalhttp.NewRouter(cfg, pool, redisClient, authService, papeis, bus, ponte)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go ponte.Executar(bgCtx)
	go visitanteService.EscutarEventos(bgCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("encerrando...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
