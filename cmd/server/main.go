// Command server runs the TaskNexus backend: the local todo API plus
// the background reconciliation loop against the remote task service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tasknexus/backend/internal/config"
	"github.com/tasknexus/backend/internal/db"
	"github.com/tasknexus/backend/internal/handler"
	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/middleware"
	"github.com/tasknexus/backend/internal/remote"
	"github.com/tasknexus/backend/internal/service"
	syncpkg "github.com/tasknexus/backend/internal/sync"
	"github.com/tasknexus/backend/internal/sync/scheduler"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)

	cfg := config.Load()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		logging.Error("Failed to initialize migrations", err, nil)
		os.Exit(1)
	}
	if err := migrator.Migrate(); err != nil {
		logging.Error("Failed to run migrations", err, nil)
		os.Exit(1)
	}

	repo := db.NewRepository(database.DB)

	client := remote.NewClient(&remote.Config{
		BaseURL:  cfg.RemoteBaseURL,
		APIKey:   cfg.RemoteAPIKey,
		SourceID: cfg.SourceID,
		Timeout:  cfg.RemoteTimeout,
	})

	orchestrator := syncpkg.NewOrchestrator(repo, client, &syncpkg.Options{
		DefaultStrategy:   cfg.SyncStrategy,
		DisableResilience: cfg.DisableResilience,
		ServerSideDelta:   cfg.ServerSideDelta,
	})

	sched := scheduler.NewScheduler(orchestrator, &scheduler.Config{
		SyncInterval: cfg.SyncInterval,
		CycleTimeout: 5 * time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	listService := service.NewTodoListService(repo)
	itemService := service.NewTodoItemService(repo)

	listHandler := handler.NewTodoListHandler(listService)
	itemHandler := handler.NewTodoItemHandler(itemService)
	syncHandler := handler.NewSyncHandler(sched)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/lists", listHandler.HandleListLists)
		r.Post("/lists", listHandler.HandleCreateList)
		r.Get("/lists/{list_id}", listHandler.HandleGetList)
		r.Put("/lists/{list_id}", listHandler.HandleUpdateList)
		r.Delete("/lists/{list_id}", listHandler.HandleDeleteList)

		r.Post("/lists/{list_id}/items", itemHandler.HandleCreateItem)
		r.Put("/items/{item_id}", itemHandler.HandleUpdateItem)
		r.Delete("/items/{item_id}", itemHandler.HandleDeleteItem)

		r.Post("/sync", syncHandler.HandleTriggerSync)
		r.Post("/sync/now", syncHandler.HandleSyncNow)
		r.Get("/sync/status", syncHandler.HandleSyncStatus)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Info("Server starting",
			map[string]interface{}{"port": cfg.Port, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server error", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced shutdown", err, nil)
		os.Exit(1)
	}

	logging.Info("Server stopped", nil)
}
