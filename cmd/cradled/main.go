package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/w-h-a/cradle"
	"github.com/w-h-a/cradle/embedder"
	"github.com/w-h-a/cradle/embedder/inference"
	"github.com/w-h-a/cradle/generator"
	anthropicgenerator "github.com/w-h-a/cradle/generator/anthropic"
	googlegenerator "github.com/w-h-a/cradle/generator/google"
	openaigenerator "github.com/w-h-a/cradle/generator/openai"
	"github.com/w-h-a/cradle/predictor"
	"github.com/w-h-a/cradle/ratelimit"
	httpserver "github.com/w-h-a/cradle/server/http"
	"github.com/w-h-a/cradle/store"
	memorystore "github.com/w-h-a/cradle/store/memory"
	postgresstore "github.com/w-h-a/cradle/store/postgres"
)

var (
	cfg struct {
		// Server config
		Address string `help:"Address for the http server" default:":4000"`

		// Store config
		Postgres      string `help:"Postgres location; empty runs the in-memory store" env:"CRADLE_POSTGRES" default:""`
		ConfirmedOnly bool   `help:"Restrict the corpus to confirmed predictions" default:"false"`

		// Embedder config
		InferenceLocation string `help:"Address of the embedding inference service" env:"CRADLE_INFERENCE" default:"http://localhost:8500"`
		InferenceKey      string `help:"API key for the embedding inference service" env:"CRADLE_INFERENCE_KEY" default:""`
		InferenceModel    string `help:"Model identifier for the embedding inference service" default:""`

		// Generator config
		Generator      string `help:"Generation provider: openai, anthropic, or google" default:"openai"`
		GeneratorKey   string `help:"API key for the generator" env:"CRADLE_GENERATOR_KEY" default:""`
		GeneratorModel string `help:"Model identifier for the generator" default:"gpt-4.1-mini"`

		// Prediction config
		MinLabeled int     `help:"Labeled recordings required before predictions start" default:"3"`
		Neighbors  int     `help:"Neighbors consulted per prediction" default:"5"`
		Agreement  float64 `help:"Neighbor agreement fraction for high confidence" default:"0.6"`

		// Chat config
		ChatQuota  int           `help:"Chat requests allowed per user per window" default:"30"`
		ChatWindow time.Duration `help:"Sliding window for the chat quota" default:"1h"`
	}
)

func main() {
	_ = godotenv.Load()
	_ = kong.Parse(&cfg)

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// Store
	storeOpts := []store.Option{
		store.WithLocation(cfg.Postgres),
		store.WithConfirmedOnly(cfg.ConfirmedOnly),
	}

	var st store.Store
	if len(cfg.Postgres) > 0 {
		st = postgresstore.NewStore(storeOpts...)
	} else {
		st = memorystore.NewStore(storeOpts...)
	}

	// Embedder
	emb := inference.NewEmbedder(
		embedder.WithLocation(cfg.InferenceLocation),
		embedder.WithApiKey(cfg.InferenceKey),
		embedder.WithModel(cfg.InferenceModel),
	)

	// Generator
	generatorOpts := []generator.Option{
		generator.WithApiKey(cfg.GeneratorKey),
		generator.WithModel(cfg.GeneratorModel),
	}

	var gen generator.Generator
	switch cfg.Generator {
	case "anthropic":
		gen = anthropicgenerator.NewGenerator(generatorOpts...)
	case "google":
		gen = googlegenerator.NewGenerator(generatorOpts...)
	default:
		gen = openaigenerator.NewGenerator(generatorOpts...)
	}

	// Service
	service := cradle.New(
		cradle.WithStore(st),
		cradle.WithEmbedder(emb),
		cradle.WithGenerator(gen),
		cradle.WithLimiter(ratelimit.New(
			ratelimit.WithLimit(cfg.ChatQuota),
			ratelimit.WithWindow(cfg.ChatWindow),
		)),
		cradle.WithPredictorOptions(
			predictor.WithMinCorpus(cfg.MinLabeled),
			predictor.WithNeighbors(cfg.Neighbors),
			predictor.WithAgreement(cfg.Agreement),
		),
	)

	server := httpserver.NewServer(
		service,
		httpserver.WithAddress(cfg.Address),
		httpserver.WithMiddleware(httpserver.LogRequests),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// let in-flight cry processing reach a terminal state
	service.Wait()
}
