// main.go - Dark-pool daemon.
//
// Wires the core: whitelist registry, single-writer order book engine,
// bounded Groth16 proof pool, per-match settlement actors, event bus, and
// the HTTP/websocket surface. Configuration comes from a JSON file created
// with defaults on first run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/api"
	"darkpool/internal/book"
	"darkpool/internal/bus"
	"darkpool/internal/gateway"
	"darkpool/internal/prover"
	"darkpool/internal/settle"
	"darkpool/internal/store"
	"darkpool/internal/stream"
	"darkpool/internal/whitelist"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "darkpool.json", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, audit, closeLogs, err := NewLogger(cfg.LogLevel, cfg.LogFile, cfg.AuditLogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLogs()
	log.Info("darkpoold starting", zap.String("version", version))

	// Durable log.
	var st *store.Store
	if cfg.DataDir != "" {
		st, err = store.Open(cfg.DataDir, log)
		if err != nil {
			log.Fatal("store open failed", zap.Error(err))
		}
		defer st.Close()
	}

	// Whitelist snapshot.
	registry := whitelist.NewRegistry(log)
	addrs, err := LoadWhitelist(cfg.WhitelistPath)
	if err != nil {
		log.Fatal("whitelist load failed", zap.Error(err))
	}
	if _, err := registry.RebuildFromAddresses(addrs); err != nil {
		log.Fatal("whitelist build failed", zap.Error(err))
	}

	// Event fan-out.
	eventBus := bus.New(cfg.SubscriberQueueSize, log)

	// Circuit artifacts and proof pool.
	artifacts, err := prover.LoadArtifacts(cfg.CircuitWasmPath, cfg.CircuitZkeyPath, cfg.VerifyingKeyPath)
	if err != nil {
		log.Fatal("circuit artifacts load failed", zap.Error(err))
	}
	pool := prover.NewPool(artifacts, cfg.ProofWorkers, log)

	// Settlement.
	var sink settle.Sink
	if cfg.SettlementRelayerURL != "" {
		sink = newRelayerSink(cfg.SettlementRelayerURL)
	} else {
		log.Warn("no settlement relayer configured; settlements will fail at submission")
		sink = unroutableSink{}
	}
	settleCfg := settle.DefaultConfig()
	settleCfg.SignatureTimeout = time.Duration(cfg.SignatureTimeoutSeconds) * time.Second
	coordinator := settle.NewCoordinator(settleCfg, pool, registry, sink, eventBus, st, log)
	defer coordinator.Close()

	// Order book engine.
	engine := book.NewEngine(eventBus, log)
	defer engine.Close()

	// Kafka event mirror.
	var mirror *stream.Mirror
	if len(cfg.KafkaBrokers) > 0 {
		mirror = stream.NewMirror(cfg.KafkaBrokers, cfg.KafkaTopic, eventBus, log)
		go mirror.Run()
		defer mirror.Close()
		log.Info("event mirror enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	// Metrics, fed off a bus tap.
	metrics := NewMetricsCollector()
	go collectMetrics(eventBus, metrics, audit)

	// Health.
	health := NewHealthChecker(version)
	health.RegisterComponent("orderbook", func() error {
		_, err := engine.PendingCount()
		return err
	})
	health.RegisterComponent("whitelist", func() error {
		if registry.Snapshot() == nil {
			return errors.New("no whitelist snapshot")
		}
		return nil
	})
	if st != nil {
		health.RegisterComponent("store", func() error {
			_, err := st.List(store.PrefixMatch)
			return err
		})
	}

	// HTTP surface.
	gwCfg := gateway.DefaultConfig()
	gwCfg.PingInterval = time.Duration(cfg.PingIntervalSeconds) * time.Second
	gw := gateway.NewServer(gwCfg, eventBus, log)

	limiter := api.NewTraderRateLimiter(cfg.RateLimitBurst, cfg.RateLimitPerMin, time.Minute)
	apiServer := api.NewServer(engine, coordinator, registry, st, limiter, cfg.AutoProcessMatches, log)
	mux := apiServer.Routes(gw)
	mux.Handle("GET /health", health)
	mux.Handle("GET /metrics", metrics)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Drain the match queue on shutdown so nothing sits unproven.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	if n, err := apiServer.ProcessPending(); err == nil && n > 0 {
		log.Info("drained match queue", zap.Int("matches", n))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}

// collectMetrics folds every bus event into counters and the audit stream.
func collectMetrics(b *bus.Bus, metrics *MetricsCollector, audit *zap.Logger) {
	tap := b.NewHandle()
	b.Tap(tap)
	for ev := range tap.Events() {
		metrics.IncrementCounter(MetricEventsPublished)
		switch ev.Type {
		case bus.TopicOrderSubmitted:
			metrics.IncrementCounter(MetricOrdersSubmitted)
		case bus.TopicOrderMatched:
			metrics.IncrementCounter(MetricOrdersMatched)
			audit.Info("match", zap.Any("data", ev.Data))
		case bus.TopicProofGenerated:
			metrics.IncrementCounter(MetricProofsGenerated)
		case bus.TopicProofFailed:
			metrics.IncrementCounter(MetricProofsFailed)
			audit.Info("proof failed", zap.Any("data", ev.Data))
		case bus.TopicSignatureAdded:
			metrics.IncrementCounter(MetricSignaturesAdded)
		case bus.TopicSettlementConfirmed:
			metrics.IncrementCounter(MetricSettlementConfirmed)
			audit.Info("settlement confirmed", zap.Any("data", ev.Data))
		case bus.TopicSettlementFailed:
			metrics.IncrementCounter(MetricSettlementFailed)
			audit.Info("settlement failed", zap.Any("data", ev.Data))
		}
	}
}

// unroutableSink fails every submission terminally.
type unroutableSink struct{}

func (unroutableSink) Submit(ctx context.Context, p *settle.Packet) (string, error) {
	return "", errors.New("no settlement relayer configured")
}
