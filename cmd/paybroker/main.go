// cmd/paybroker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybroker/internal/dispatch"
	"paybroker/internal/platform"
	"paybroker/internal/policy"
	"paybroker/internal/processor"
	"paybroker/internal/registrar"
	"paybroker/internal/secrets"
	"paybroker/internal/server"
	"paybroker/internal/token"
	"paybroker/internal/webhook"
	"paybroker/pkg/config"
	"paybroker/pkg/db"
	"paybroker/pkg/logger"
	"paybroker/pkg/middleware"
	"paybroker/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	ctx := context.Background()

	if cfg.Prod() && (cfg.DatabaseURL == "" || cfg.EncryptionKey == "") {
		log.Fatalw("DATABASE_URL and ENCRYPTION_KEY are required in production")
	}

	pool := db.MustConnect(cfg, log)
	var store tenants.Store
	if pool != nil {
		defer pool.Close()
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		store = tenants.NewPostgresStore(pool, log)
	} else {
		store = tenants.NewMemoryStore(log)
	}

	var cipher *secrets.Cipher
	if cfg.EncryptionKey != "" {
		c, err := secrets.New(cfg.EncryptionKey, cfg.EncryptionSalt)
		if err != nil {
			log.Fatalw("cipher", "err", err)
		}
		cipher = c
	}

	manifest, err := registrar.LoadManifest(cfg.ProviderManifest)
	if err != nil {
		log.Fatalw("provider manifest", "path", cfg.ProviderManifest, "err", err)
	}
	guard, err := policy.Load(ctx, cfg.EventPolicyFile, log)
	if err != nil {
		log.Fatalw("event policy", "path", cfg.EventPolicyFile, "err", err)
	}

	pc := platform.New(cfg, log)
	tokens := token.NewManager(store, pc, log)
	opts := []dispatch.Option{dispatch.WithGuard(guard)}
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		opts = append(opts, dispatch.WithLocker(dispatch.NewRedisLocker(rdb, cfg.CustomerLockTTL, log)))
	}

	srv := server.New(cfg, server.Deps{
		Store:      store,
		Auth:       webhook.NewAuthenticator(store, log),
		Clients:    processor.NewResolver(store, cipher, processor.NewStripeFactory(log)),
		Dispatcher: dispatch.New(store, tokens, pc, log, opts...),
		Registrar: registrar.New(store, pc, tokens, cipher, registrar.Config{
			Manifest: manifest,
			BaseURL:  cfg.BasePublicURL,
			AppID:    cfg.PlatformAppID,
		}, log),
	}, log)

	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("paybroker listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = hs.Shutdown(sctx)
	_ = middleware.ShutdownTracing(sctx)
	_ = log.Sync()
	fmt.Println("paybroker stopped")
}
