package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/config"
	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/http"
	"github.com/voidforge/foundry/pkg/ingest"
	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/scheduler"
	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/storage"

	_ "github.com/voidforge/foundry/pkg/dispatch/httpxp"
	_ "github.com/voidforge/foundry/pkg/dispatch/nomad"
	_ "github.com/voidforge/foundry/pkg/storage/bc"
	_ "github.com/voidforge/foundry/pkg/storage/sq"
)

func main() {
	level := os.Getenv("FOUNDRY_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	appLogger := hclog.New(&hclog.LoggerOptions{
		Name:  "foundry",
		Level: hclog.LevelFromString(level),
	})
	appLogger.Info("foundry is initializing")

	cfg := config.NewConfig()
	if p := os.Getenv("FOUNDRY_CONFIG"); p != "" {
		if err := cfg.LoadFromFile(p); err != nil {
			appLogger.Error("Error loading config", "path", p, "error", err)
			return
		}
	}

	srv, err := http.New(appLogger)
	if err != nil {
		appLogger.Error("Error initializing webserver", "error", err)
		return
	}

	storage.SetLogger(appLogger)
	storage.DoCallbacks()
	kv, err := storage.Initialize(cfg.Store)
	if err != nil {
		appLogger.Error("Couldn't initialize storage", "error", err)
		return
	}

	store := state.New(appLogger, kv)
	reg := registry.New(appLogger, store, cfg.HeartbeatTimeout, cfg.SweepInterval)

	dispatch.SetLogger(appLogger)
	dispatch.DoCallbacks()
	transport, err := dispatch.ConstructTransport(cfg.Transport)
	if err != nil {
		appLogger.Error("Couldn't initialize transport", "error", err)
		return
	}
	dsp := dispatch.New(appLogger, transport)

	sched, err := scheduler.New(
		scheduler.WithLogger(appLogger),
		scheduler.WithStore(store),
		scheduler.WithRegistry(reg),
		scheduler.WithDispatcher(dsp),
		scheduler.WithRetryBudget(cfg.RetryBudget),
		scheduler.WithDispatchInterval(cfg.DispatchInterval),
	)
	if err != nil {
		appLogger.Error("Couldn't initialize scheduler", "error", err)
		return
	}
	reg.OnDeath(sched.RequeueWorker)

	if err := reg.Bootstrap(); err != nil {
		appLogger.Error("Couldn't recover workers", "error", err)
		return
	}
	if err := sched.Recover(); err != nil {
		appLogger.Error("Couldn't recover groups", "error", err)
		return
	}

	ing := ingest.New(appLogger, sched, reg, cfg.IngestShards)

	srv.Mount("/api/scheduler", sched.HTTPEntry())
	srv.Mount("/api/workers", ing.HTTPEntry())
	srv.Mount("/api/registry", reg.HTTPEntry())

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	go reg.Run(ctx)
	go srv.Serve(cfg.Bind)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt)

	<-stop

	appLogger.Info("Shutting down")
	cancel()
	srv.Shutdown(context.Background())
	ing.Close()
	kv.Close()
	appLogger.Info("Goodbye!")
}
