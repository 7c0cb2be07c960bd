package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"conduitnet.ai/internal/metrics"
	persistlog "conduitnet.ai/internal/persistence/log"
	"conduitnet.ai/internal/persistence/regionstore"
	"conduitnet.ai/internal/sim/network"
	"conduitnet.ai/internal/sim/scenario"
	"conduitnet.ai/internal/sim/tuning"
	"conduitnet.ai/internal/transport/observer"
)

func main() {
	var (
		configPath   = flag.String("config", "./configs/tuning.yaml", "path to tuning.yaml")
		scenarioPath = flag.String("scenario", "./configs/scenario.yaml", "scenario to seed an empty store with (empty to disable)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		worldID      = flag.String("world", "", "run only this world from the config (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *configPath)
		tune = tuning.Defaults()
	}
	if w := strings.TrimSpace(*worldID); w != "" {
		tune.Worlds = onlyWorld(tune.Worlds, w)
		if len(tune.Worlds) == 0 {
			logger.Fatalf("world %q is not configured", w)
		}
	}
	compression, err := tune.Compression()
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	store, err := regionstore.Open(filepath.Join(*dataDir, "index", "regions.sqlite"))
	if err != nil {
		logger.Fatalf("open region store: %v", err)
	}
	defer store.Close()

	transfers := persistlog.NewTransferLogger(*dataDir)
	defer transfers.Close()

	mreg := metrics.NewRegistry()
	buffers := scenario.NewBuffers()
	reg := network.NewRegistry(network.Options{
		Logger:            log.New(os.Stdout, "[network] ", log.LstdFlags|log.Lmicroseconds),
		Capabilities:      buffers,
		Metrics:           mreg,
		Compression:       compression,
		PublishSnapshots:  true,
		PublishEveryTicks: uint64(tune.SnapshotEveryTicks),
	})

	h := &host{
		log:       logger,
		tune:      tune,
		store:     store,
		reg:       reg,
		buffers:   buffers,
		transfers: transfers,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := h.activate(ctx); err != nil {
		logger.Fatalf("activate regions: %v", err)
	}
	if p := strings.TrimSpace(*scenarioPath); p != "" {
		sc, err := scenario.Load(p)
		if err != nil {
			logger.Fatalf("load scenario: %v", err)
		}
		if err := h.seed(ctx, sc); err != nil {
			logger.Fatalf("seed scenario: %v", err)
		}
	}
	for _, w := range reg.Worlds() {
		if err := reg.CheckInvariants(w); err != nil {
			logger.Printf("world %s: %v", w, err)
		}
	}

	worlds := make([]string, 0, len(tune.Worlds))
	for _, wc := range tune.Worlds {
		worlds = append(worlds, wc.ID)
	}
	obs := observer.NewServer(reg, observer.Config{
		Worlds:     worlds,
		TickRateHz: tune.TickRateHz,
		MaxClients: tune.Observer.MaxClients,
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	metricsMux.Handle("/metrics", mreg.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.run(gctx) })
	if tune.MetricsListen != "" {
		g.Go(func() error { return serve(gctx, tune.MetricsListen, metricsMux, logger) })
	}
	if tune.Observer.Listen != "" {
		g.Go(func() error { return serve(gctx, tune.Observer.Listen, obs.Handler(), logger) })
	}
	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	st := store.Stats()
	logger.Printf("tick index: dropped=%d write_errors=%d", st.DropTotal, st.WriteErrors)
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	logger.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func onlyWorld(ws []tuning.WorldConfig, id string) []tuning.WorldConfig {
	for _, wc := range ws {
		if wc.ID == id {
			return []tuning.WorldConfig{wc}
		}
	}
	return nil
}
