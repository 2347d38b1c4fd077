package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"househunter/internal/config"
	"househunter/internal/gateway/mpesa"
	"househunter/internal/httpserver"
	"househunter/internal/logger"
	"househunter/internal/realtime"
	"househunter/internal/security"
	"househunter/internal/service"
	"househunter/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newLayer(ctx context.Context, cfg *config.Config) (realtime.Layer, error) {
	if cfg.RedisAddr == "" {
		return realtime.NewMemoryLayer(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
	}
	return realtime.NewRedisLayer(client), nil
}

func newGateway(cfg *config.Config) mpesa.Gateway {
	if cfg.Mpesa.ConsumerKey == "" {
		logger.GetLogger().Warn("no gateway credentials configured, using the simulated gateway")
		return mpesa.Simulated{}
	}
	return mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		Timeout:        cfg.GatewayTimeout,
	}, nil)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger()
	log.Info("starting server", cfg.LogFields()...)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.db.Close()

	layer, err := newLayer(ctx, cfg)
	if err != nil {
		return err
	}
	defer layer.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyEncryptKeys)
	if err != nil {
		return fmt.Errorf("initialize encryptor: %w", err)
	}

	// Services
	authSvc := service.NewAuthService(st.users, tokenSvc, passwordHasher)
	userSvc := service.NewUserService(st.users, layer, cfg.OnlineWindow)
	listingSvc := service.NewListingService(st.listings, layer)
	msgSvc := service.NewMessageService(st.messages, st.blocks, st.listings, st.users, encryptor, layer)
	paymentSvc := service.NewPaymentService(st.payments, st.listings, newGateway(cfg), layer, service.PaymentOptions{
		CallbackURL:     cfg.CallbackURL(),
		Simulate:        cfg.SimulatePayments,
		SimulationDelay: cfg.SimulationDelay,
		CallbackWait:    cfg.CallbackWait,
	})
	defer paymentSvc.Close()

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		DB:       st.db,
		UserRepo: st.users,
		Auth:     authSvc,
		Users:    userSvc,
		Listings: listingSvc,
		Messages: msgSvc,
		Payments: paymentSvc,
		WS:       ws.NewHandler(authSvc, st.users, msgSvc, paymentSvc, layer, cfg.CORSOrigins),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      65 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped", zap.Int("pending_simulations", paymentSvc.PendingSimulations()))
	return err
}
