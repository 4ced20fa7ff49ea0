package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"idsoc/config"
	"idsoc/internal/catalog"
	"idsoc/internal/correlate"
	"idsoc/internal/incident"
	inputredis "idsoc/internal/input/redis"
	"idsoc/internal/pipeline"
	"idsoc/internal/server"
	"idsoc/internal/simdata"
	"idsoc/internal/store"
	"idsoc/internal/telemetry"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("idsoc.yml"); err == nil {
		return "idsoc.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "idsoc.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "idsoc.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.IDSOC.Server.Addr == "" {
		cfg.IDSOC.Server.Addr = ":8080"
	}

	if cfg.IDSOC.Input.Redis.Addr == "" {
		cfg.IDSOC.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.IDSOC.Input.Redis.Key == "" {
		cfg.IDSOC.Input.Redis.Key = "identity_events"
	}
	if cfg.IDSOC.Input.Redis.BlockTimeout == 0 {
		cfg.IDSOC.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.IDSOC.Correlation.Workers <= 0 {
		cfg.IDSOC.Correlation.Workers = 4
	}
	if cfg.IDSOC.Correlation.MergeWindow <= 0 {
		cfg.IDSOC.Correlation.MergeWindow = 24 * time.Hour
	}

	if cfg.IDSOC.Simulation.PerScenario <= 0 {
		cfg.IDSOC.Simulation.PerScenario = 1
	}
	if cfg.IDSOC.Simulation.BenignEvents < 0 {
		cfg.IDSOC.Simulation.BenignEvents = 0
	}

	if cfg.IDSOC.Logging.Level == "" {
		cfg.IDSOC.Logging.Level = "info"
	}
	if cfg.IDSOC.Logging.Format == "" {
		cfg.IDSOC.Logging.Format = "text"
	}
}

func setupLogging(cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func loadConfig(args []string) *config.Config {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)
	setupLogging(cfg.IDSOC.Logging)
	logrus.WithField("path", configPath).Info("config loaded")
	return cfg
}

func runServer(args []string) {
	cfg := loadConfig(args)
	logrus.Info("idsoc starting")

	cat, err := catalog.Load(cfg.IDSOC.Catalog.Path)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load detection catalog")
	}

	st := store.New()
	engine := correlate.New(cat, st, correlate.Config{Workers: cfg.IDSOC.Correlation.Workers})
	aggregator := incident.NewAggregator(st, cat, incident.AggregatorConfig{
		MergeWindow: cfg.IDSOC.Correlation.MergeWindow,
	})
	manager := incident.NewManager(st)
	met := telemetry.New()
	pipe := pipeline.New(st, engine, aggregator, met)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IDSOC.Simulation.Enabled {
		gen := simdata.New(simdata.Config{Seed: cfg.IDSOC.Simulation.Seed})
		events := gen.Generate(simdata.Config{
			PerScenario:  cfg.IDSOC.Simulation.PerScenario,
			BenignEvents: cfg.IDSOC.Simulation.BenignEvents,
		})
		res, err := pipe.Ingest(ctx, events)
		if err != nil {
			logrus.WithError(err).Fatal("failed to seed simulated telemetry")
		}
		logrus.WithFields(logrus.Fields{
			"events":     res.EventsAccepted,
			"detections": res.NewDetections,
			"incidents":  res.NewIncidents,
		}).Info("simulated telemetry seeded")
	}

	if cfg.IDSOC.Input.Redis.Enabled {
		consumer, err := inputredis.NewConsumer(inputredis.Config{
			Addr:         cfg.IDSOC.Input.Redis.Addr,
			Password:     cfg.IDSOC.Input.Redis.Password,
			DB:           cfg.IDSOC.Input.Redis.DB,
			Key:          cfg.IDSOC.Input.Redis.Key,
			BlockTimeout: cfg.IDSOC.Input.Redis.BlockTimeout,
		})
		if err != nil {
			logrus.WithError(err).Fatal("failed to create Redis consumer")
		}
		defer consumer.Close()
		go func() {
			if err := pipe.Consume(ctx, consumer); err != nil && err != context.Canceled {
				logrus.WithError(err).Error("event consumer stopped")
			}
		}()
		logrus.WithField("key", cfg.IDSOC.Input.Redis.Key).Info("Redis event consumer started")
	}

	srv := server.New(server.Config{Addr: cfg.IDSOC.Server.Addr}, st, cat, manager, pipe, met)
	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	cancel()
	if err := srv.Stop(context.Background()); err != nil {
		logrus.WithError(err).Error("error stopping HTTP server")
	}
	st.Close()
	logrus.Info("idsoc stopped")
}

func runSeed(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	output := fs.String("output", "output/events.jsonl", "Event JSONL output path")
	perScenario := fs.Int("per-scenario", 1, "Instances of each attack scenario")
	benign := fs.Int("benign", 50, "Number of benign background events")
	seed := fs.Int64("seed", 42, "Random seed")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	gen := simdata.New(simdata.Config{Seed: *seed})
	events := gen.Generate(simdata.Config{PerScenario: *perScenario, BenignEvents: *benign})
	if err := writeJSONLines(*output, events); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write events: %v\n", err)
		return 1
	}
	fmt.Printf("generated events=%d output=%s\n", len(events), *output)
	return 0
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServer(os.Args[2:])
			return
		case "seed":
			os.Exit(runSeed(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runServer(os.Args[1:])
			return
		}
	}

	runServer(nil)
}
