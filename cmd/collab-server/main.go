package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-collab/pkg/simplecollab"
	"github.com/tendant/simple-collab/pkg/simplecollab/api"
	"github.com/tendant/simple-collab/pkg/simplecollab/config"
	"github.com/tendant/simple-collab/pkg/simplecollab/ws"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	stack, err := cfg.Build(logger)
	if err != nil {
		logger.Error("failed to build collaboration stack", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go stack.Hub.Run(ctx)
	if stack.RedisBus != nil {
		go stack.RedisBus.Run(ctx)
	}

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
	wsHandler := ws.NewHandler(stack.Hub, identityFromClaims,
		ws.WithLogger(logger),
		ws.WithQueueSize(cfg.OutboundBuffer),
		ws.WithSendTimeout(cfg.SendTimeout),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})
	r.Mount("/collab", api.NewStatusHandler(stack.Hub).Routes())
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verify(tokenAuth, jwtauth.TokenFromQuery, jwtauth.TokenFromHeader))
		r.Handle("/collab/ws", wsHandler)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	go func() {
		logger.Info("collab server starting",
			"port", cfg.Port,
			"heartbeat_interval", cfg.HeartbeatInterval,
			"durable_log", stack.RedisBus != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	stack.Broadcaster.Stop()
	if stack.RedisBus != nil {
		stack.RedisBus.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	logger.Info("server exiting")
}

// identityFromClaims maps verified JWT claims onto the connection Identity.
// Required claims: sub (user id) and session_id. tenant_id and email are
// optional.
func identityFromClaims(r *http.Request) (simplecollab.Identity, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return simplecollab.Identity{}, err
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return simplecollab.Identity{}, fmt.Errorf("invalid sub claim: %w", err)
	}
	sessionID, _ := claims["session_id"].(string)
	if sessionID == "" {
		return simplecollab.Identity{}, errors.New("missing session_id claim")
	}

	identity := simplecollab.Identity{
		SessionID: sessionID,
		UserID:    userID,
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if tenant, ok := claims["tenant_id"].(string); ok && tenant != "" {
		tenantID, err := uuid.Parse(tenant)
		if err != nil {
			return simplecollab.Identity{}, fmt.Errorf("invalid tenant_id claim: %w", err)
		}
		identity.TenantID = tenantID
	}
	return identity, nil
}
