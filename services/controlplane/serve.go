package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roachplane/pkg/agekey"
	"roachplane/pkg/bus"
	"roachplane/pkg/db"
	"roachplane/pkg/render"
	gos3 "roachplane/pkg/s3"
	"roachplane/pkg/telemetry"
	"roachplane/services/api"
	"roachplane/services/dispatcher"
	"roachplane/services/operations"
	"roachplane/services/runner"
	"roachplane/services/store"
)

const serviceName = "roachplaned"

// Serve wires the whole control plane and blocks until ctx is cancelled. On
// shutdown the HTTP server stops first, then the dispatcher, then in-flight
// operation workers drain.
func Serve(ctx context.Context, cfg Config) error {
	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Printf("ERROR telemetry shutdown: %v", err)
			}
		}
	}()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	keeper, err := agekey.NewKeeperFromEnv()
	if err != nil {
		return fmt.Errorf("secret keeper: %w", err)
	}
	st, err := store.New(pool, keeper)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer eventBus.Close()
	} else {
		logger.Printf("WARN NATS_URL not set, lifecycle events will not be published")
	}
	if eventBus != nil {
		sub, err := eventBus.Subscribe(ctx, bus.JobsFinishedSubject, serviceName+"-joblog", func(_ context.Context, data []byte) error {
			var ev struct {
				JobID  int64  `json:"job_id"`
				Status string `json:"status"`
				Reason string `json:"reason"`
			}
			if err := json.Unmarshal(data, &ev); err != nil {
				return err
			}
			if ev.Reason != "" {
				logger.Printf("INFO job %d finished %s: %s", ev.JobID, ev.Status, ev.Reason)
			} else {
				logger.Printf("INFO job %d finished %s", ev.JobID, ev.Status)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe job events: %w", err)
		}
		defer sub.Close()
	}

	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "roachplane")
	}

	engine, err := runner.NewExecEngine(cfg.EngineBin)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	catalog, err := runner.NewCatalog(st, filepath.Join(workRoot, "catalog"))
	if err != nil {
		return fmt.Errorf("playbook catalog: %w", err)
	}

	var forensics *runner.Forensics
	var backups operations.BackupStore
	if s3c, err := gos3.NewClientFromEnv(); err != nil {
		logger.Printf("WARN object storage unavailable, forensics and restore prechecks disabled: %v", err)
	} else {
		forensics = runner.NewForensics(s3c, st, logger)
		backups = s3c
	}

	jobRunner, err := runner.New(st, engine, catalog, logger, filepath.Join(workRoot, "jobs"), runner.Options{Forensics: forensics})
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	probe, err := runner.NewLite(engine, catalog, st, filepath.Join(workRoot, "probes"))
	if err != nil {
		return fmt.Errorf("probe runner: %w", err)
	}
	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("renderer: %w", err)
	}

	workers := dispatcher.NewPool(ctx, cfg.WorkerCount, logger)

	var publisher operations.Publisher
	if eventBus != nil {
		publisher = eventBus
	}
	handlers, err := operations.New(operations.Deps{
		Store:    st,
		Runner:   jobRunner,
		Probe:    probe,
		Bus:      publisher,
		Backups:  backups,
		Spawn:    workers,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("handlers: %w", err)
	}

	if err := seedPeriodic(ctx, st); err != nil {
		return fmt.Errorf("seed periodic messages: %w", err)
	}

	disp := dispatcher.New(st, handlers, logger, cfg.PollInterval)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		_ = disp.Run(ctx)
	}()

	httpAPI, err := api.New(st, logger)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	routes, err := httpAPI.Routes()
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("ERROR server shutdown: %v", err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	<-dispatcherDone
	logger.Printf("INFO draining operation workers")
	workers.Drain()
	logger.Printf("INFO shutdown complete")
	return nil
}

// seedPeriodic bootstraps the self-perpetuating loops. Each handler enqueues
// its own successor, so only a queue with no pending tick needs a seed.
func seedPeriodic(ctx context.Context, st *store.Store) error {
	for _, msgType := range []string{store.MsgHealthcheckClusters, store.MsgFailZombieJobs} {
		pending, err := st.HasPendingMessage(ctx, msgType)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		if _, err := st.Enqueue(ctx, msgType, struct{}{}, serviceName, time.Now()); err != nil {
			return err
		}
	}
	return nil
}
