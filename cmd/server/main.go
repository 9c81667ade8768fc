package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	persistlog "transity.ai/internal/persistence/log"
	"transity.ai/internal/sim/tasks"
	"transity.ai/internal/sim/tuning"
	"transity.ai/internal/sim/world"
	"transity.ai/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the event index (JSONL event log is always written)")
		seed         = flag.Int64("seed", 0, "override worldgen and placement seeds (0 keeps tuning.yaml)")
		metricsEvery = flag.Duration("metrics_log_every", 10*time.Second, "interval for metrics samples in the data dir (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		applySeed(&tune, *seed)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional: read-model index backend (the JSONL log is the source of truth).
	idx, err := openRuntimeIndex(*dataDir, *disableDB, tune, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	workers := tune.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := tasks.NewPool(workers)
	defer pool.Close()

	w, err := world.New(world.WorldConfig{
		TickRateHz:       tune.TickRateHz,
		WorldGen:         tune.WorldGen,
		Placement:        tune.Placement,
		InitialCamera:    tune.Streaming.InitialCamera,
		MaxOverlayCells:  tune.Observer.MaxOverlayCells,
		MaxChunksPerTick: tune.Observer.MaxChunksPerTick,
	}, pool, logger)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	eventLog := persistlog.NewEventLogger(*dataDir)
	defer eventLog.Close()
	w.AddEventSink(eventLog)
	if idx != nil {
		w.AddEventSink(idx)
	}

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	if *metricsEvery > 0 {
		metricsLog := persistlog.NewMetricsLogger(*dataDir)
		defer metricsLog.Close()
		go sampleMetrics(ctx, w, metricsLog, *metricsEvery, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, pool, idx)
	})

	enableAdminHTTP := envBool("TRANSITY_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("TRANSITY_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		var history historyIndex
		if h, ok := idx.(historyIndex); ok {
			history = h
		}
		newAdminAPI(w, logger, tune.RegenerateRate.PerSecond, tune.RegenerateRate.Burst, history).register(mux)

		obsSrv := observer.NewServer(w, logger, observer.Options{
			MaxObservers: tune.Observer.MaxObservers,
			SendQueue:    tune.Observer.SendQueueMessages,
		})
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (TRANSITY_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TRANSITY_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s data=%s workers=%d", *addr, filepath.Clean(*dataDir), workers)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-worldDone
}

// applySeed derives every noise layer seed and the placement seed from one
// value, keeping the layers decorrelated.
func applySeed(t *tuning.Tuning, seed int64) {
	for i := range t.WorldGen.NoiseLayers {
		t.WorldGen.NoiseLayers[i].Seed = seed + int64(i)
	}
	t.Placement.Seed = seed
}

func sampleMetrics(ctx context.Context, w *world.World, l *persistlog.MetricsLogger, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.WriteMetrics(w.Metrics()); err != nil {
				logger.Printf("metrics log: %v", err)
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
