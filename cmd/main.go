package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"livesession/src/config"
	"livesession/src/httpapi"
	"livesession/src/logging"
	"livesession/src/middleware"
	"livesession/src/presence"
	"livesession/src/session"
	"livesession/src/store"
	"livesession/src/transport"
)

func main() {
	// Load .env file if it exists (non-fatal if missing).
	_ = godotenv.Load()
	logging.Configure()

	cfg, err := config.Load()
	if err != nil {
		logging.Log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to connect to database")
	}

	presenceTracker := presence.NewTracker()

	// NewManager needs a Broadcaster before the Gateway exists, and
	// NewGateway needs the Manager as its Handler: gatewayAdapter breaks
	// the cycle by resolving the real gateway lazily.
	var gw *transport.Gateway
	manager := session.NewManager(st, &gatewayAdapter{get: func() *transport.Gateway { return gw }}, presenceTracker, cfg)
	gw = transport.NewGateway(manager, cfg.HeartbeatInterval)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	go runHeartbeatScanner(bgCtx, manager, cfg.HeartbeatScanInterval, cfg.HeartbeatStaleAfter)

	feed := transport.NewChangeFeed(st.Pool(), store.NotifyChannel)
	feedCh, feedCancel := feed.Subscribe()
	go func() {
		if err := feed.Run(bgCtx); err != nil {
			logging.Log.WithError(err).Error("change feed listener stopped")
		}
	}()
	go manager.WatchChangeFeed(bgCtx, feedCh)
	defer feedCancel()

	r := chi.NewRouter()
	middleware.Setup(r, cfg.BehindProxy)

	handlers := httpapi.Handlers{Manager: manager}
	handlers.Mount(r)
	r.Handle("/socket", gw)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"not_found","message":"route does not exist"}}`))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.Log.WithField("addr", ":"+cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()

	waitForShutdown(srv, st, gw, bgCancel)
}

type gatewayAdapter struct {
	get func() *transport.Gateway
}

func (a *gatewayAdapter) Broadcast(sessionID string, evt transport.OutboundEvent) {
	if gw := a.get(); gw != nil {
		gw.Broadcast(sessionID, evt)
	}
}

func runHeartbeatScanner(ctx context.Context, manager *session.Manager, scanInterval, staleAfter time.Duration) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.ScanStaleHeartbeats(ctx, staleAfter)
		}
	}
}

func waitForShutdown(srv *http.Server, st *store.Store, gw *transport.Gateway, bgCancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	gw.Close()
	st.Close()
}
