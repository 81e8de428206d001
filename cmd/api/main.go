// Package main is the entry point for the chat sync API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/internal/config"
	"github.com/vitalink/chatsync/internal/controller"
	"github.com/vitalink/chatsync/internal/handler"
	"github.com/vitalink/chatsync/internal/identity"
	"github.com/vitalink/chatsync/internal/llm"
	"github.com/vitalink/chatsync/internal/middleware"
	"github.com/vitalink/chatsync/internal/socket"
	"github.com/vitalink/chatsync/internal/store"
	"github.com/vitalink/chatsync/pkg/logger"
	"github.com/vitalink/chatsync/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat sync server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatsync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Session store
	var sessionStore store.Store
	var readyChecker handler.ReadyChecker
	switch cfg.StoreBackend {
	case "memory":
		sessionStore = store.NewMemory()
	default:
		natsStore, err := store.ConnectNATS(ctx, store.NATSConfig{
			URL:    cfg.NATSURL,
			Token:  cfg.NATSToken,
			Bucket: cfg.NATSBucket,
		}, log)
		if err != nil {
			log.Error("failed to connect to session store", zap.Error(err))
			os.Exit(1)
		}
		sessionStore = natsStore
		readyChecker = natsStore
	}
	defer sessionStore.Close()

	// Assistant transport: the streaming socket backend when configured,
	// otherwise a request/response LLM client.
	var transport controller.Transport
	var socketState func() string
	if cfg.SocketURL != "" {
		socketTransport := socket.NewTransport(cfg.SocketURL, cfg.SocketReconnectDelay,
			cfg.LLMTimeout, socket.NewLogSink(log), log)
		socketTransport.Start()
		defer socketTransport.Close()
		transport = socketTransport
		socketState = func() string { return socketTransport.State().String() }
	} else {
		llmClient, err := llm.NewClient(llm.Provider(cfg.LLMProvider), llm.Options{
			OpenAIAPIKey:    cfg.OpenAIAPIKey,
			OpenAIBaseURL:   cfg.OpenAIBaseURL,
			AnthropicAPIKey: cfg.AnthropicAPIKey,
		})
		if err != nil {
			log.Error("failed to create LLM client", zap.Error(err))
			os.Exit(1)
		}
		transport = llm.NewTransport(llmClient, cfg.LLMModel, cfg.LLMTimeout)
	}

	// Engine: one controller per authenticated user.
	manager := controller.NewManager(func() *controller.Controller {
		return controller.New(sessionStore, transport, log)
	})
	defer manager.Close()

	verifier := identity.NewVerifier(cfg.JWTSecret)
	recommendations := llm.NewRecommendationClient(cfg.RecommendationsURL, log)

	healthHandler := handler.NewHealthHandler(readyChecker)
	sessionHandler := handler.NewSessionHandler(manager, socketState, log)
	messageHandler := handler.NewMessageHandler(manager, log)
	recHandler := handler.NewRecommendationHandler(recommendations)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler.Health)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/activate", sessionHandler.Activate)
				r.Delete("/", sessionHandler.Delete)
				r.Post("/clear", sessionHandler.Clear)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Get("/messages", sessionHandler.Messages)
		r.Get("/state", sessionHandler.State)
		r.Get("/recommendations", recHandler.List)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
