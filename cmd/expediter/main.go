package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"expediter/internal/anomaly"
	"expediter/internal/api"
	"expediter/internal/audit"
	"expediter/internal/config"
	"expediter/internal/monitoring"
	"expediter/internal/realtime"
	"expediter/internal/router"
	"expediter/internal/store"
	"expediter/internal/voice"
)

var (
	port        = flag.Int("port", 0, "API server port (overrides config)")
	metricsPort = flag.Int("metrics-port", 0, "Metrics server port (overrides config)")
	configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	auditFile   = flag.String("audit", "expediter-audit.jsonl", "Path to the append-only audit log")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}

	st, err := store.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	metrics := monitoring.New(prometheus.DefaultRegisterer)

	sink := initializeAudit(*auditFile)

	channel, seq, closeChannel, err := initializeChannel(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize event channel: %v", err)
	}
	defer closeChannel()

	mux := realtime.NewMux(channel, cfg.Sync.MaxChannels)
	defer mux.Close()

	intake := router.New(st, mux)
	executor := router.NewExecutor(st, mux, cfg, sink, metrics)

	engine := anomaly.NewEngine(st, mux, sink, metrics,
		&anomaly.DietaryDetector{Source: anomaly.StaticRestrictions(cfg.Anomaly.Restrictions)},
		&anomaly.DuplicateDetector{Store: st, Window: cfg.Anomaly.DuplicateWindow.Std()},
		&anomaly.StaleDetector{Store: st, StaleAfter: cfg.Anomaly.StaleAfter.Std()},
	)

	processor := initializeVoice(cfg, executor, st, metrics)

	hub := realtime.NewHub(mux, api.Snapshot(st, seq), metrics)

	server := api.New(cfg, st, intake, executor, engine, processor, hub, metrics)

	// Background loops: the auto-bump sweep and the periodic anomaly scan.
	sweeper := router.NewSweeper(st, executor, metrics, cfg.Sync.SweepInterval.Std())
	go sweeper.Run(ctx)
	go scanLoop(ctx, engine, cfg.Sync.SweepInterval.Std())

	go startMetricsServer(cfg.Server.MetricsPort)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down servers...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}

		cancel()
	}()

	log.Printf("Starting API server on port %d", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("API server error: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Config file %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func initializeAudit(path string) audit.Sink {
	sink, err := audit.NewFileSink(path)
	if err != nil {
		log.Printf("Audit log unavailable (%v), command audit disabled", err)
		return audit.Discard{}
	}
	return sink
}

// initializeChannel selects the notification transport: an AMQP fanout when
// a broker URL is configured, otherwise the in-process bus.
func initializeChannel(cfg *config.Config) (realtime.Channel, func() uint64, func(), error) {
	if cfg.Sync.AMQPURL != "" {
		ch, err := realtime.DialAMQP(cfg.Sync.AMQPURL)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("Event channel: AMQP at %s", cfg.Sync.AMQPURL)
		return ch, ch.Seq, ch.Close, nil
	}
	bus := realtime.NewBus()
	log.Println("Event channel: in-process bus")
	return bus, bus.Seq, func() {}, nil
}

// initializeVoice builds the voice pipeline when the Azure transcription
// backend is configured via environment, and returns nil otherwise.
func initializeVoice(cfg *config.Config, x *router.Executor, st store.Store, m *monitoring.Metrics) *voice.Processor {
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	apiKey := os.Getenv("AZURE_OPENAI_API_KEY")
	deployment := os.Getenv("AZURE_OPENAI_WHISPER_DEPLOYMENT")
	if endpoint == "" || apiKey == "" || deployment == "" {
		log.Println("Azure transcription not configured, voice endpoints disabled")
		return nil
	}

	transcriber, err := voice.NewAzureTranscriber(endpoint, apiKey, deployment)
	if err != nil {
		log.Printf("Voice transcriber init failed: %v", err)
		return nil
	}

	cache := voice.NewTranscriptionCache(10 * time.Minute)
	budget := voice.NewBudget(cfg.Voice.DailyBudget, cfg.Voice.CostPerCall, m)
	return voice.NewProcessor(transcriber, cache, budget, x, st, m,
		cfg.Voice.ConfidenceThreshold, cfg.Voice.TranscribeTimeout.Std())
}

func scanLoop(ctx context.Context, engine *anomaly.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.Scan(ctx)
		}
	}
}

func startMetricsServer(port int) {
	metricsRouter := gin.Default()
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}
	log.Printf("Starting metrics server on port %d", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
