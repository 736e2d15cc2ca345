package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/clubactivities/internal/api"
	"example.com/clubactivities/internal/auth"
	"example.com/clubactivities/internal/config"
	"example.com/clubactivities/internal/notify"
	persistence "example.com/clubactivities/internal/persistence/postgres"
	"example.com/clubactivities/internal/reconcile"
	"example.com/clubactivities/internal/scheduling"
	"example.com/clubactivities/internal/sweeper"
	httptransport "example.com/clubactivities/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	dispatcher := notify.NewKafkaDispatcher(cfg.KafkaBrokers)
	defer dispatcher.Close()

	service := scheduling.NewService(repo, dispatcher)
	reconciler := reconcile.NewReconciler(reconcile.NewCache())

	sweep := sweeper.New(repo, dispatcher)
	stopSweep, err := sweep.Start(ctx, cfg.SweepCron)
	if err != nil {
		log.Fatalf("failed to start attendance sweep: %v", err)
	}
	defer stopSweep()

	handler := api.NewHandler(service, reconciler, cfg.WindowLimit)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(logger(mux)),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("club-activities listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
