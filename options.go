package cradle

import (
	"context"
	"time"

	"github.com/w-h-a/cradle/embedder"
	"github.com/w-h-a/cradle/generator"
	"github.com/w-h-a/cradle/predictor"
	"github.com/w-h-a/cradle/ratelimit"
	"github.com/w-h-a/cradle/store"
)

const defaultSystemPrompt = "You are advising a parent about a baby crying episode. Provide practical, safe, evidence-based advice and keep responses concise (3-4 sentences). Always prioritize safety and suggest consulting a pediatrician for concerning symptoms."

type Option func(*Options)

type Options struct {
	Store     store.Store
	Embedder  embedder.Embedder
	Generator generator.Generator
	Limiter   *ratelimit.Limiter
	Predictor []predictor.Option

	EmbedTimeout    time.Duration
	EmbedRetries    int
	RetryBackoff    time.Duration
	GenerateTimeout time.Duration

	MaxMessageLen  int
	MaxReasonLen   int
	MaxSolutionLen int
	MaxNotesLen    int

	SystemPrompt string
	Now          func() time.Time
	Context      context.Context
}

func WithStore(s store.Store) Option {
	return func(o *Options) {
		o.Store = s
	}
}

func WithEmbedder(e embedder.Embedder) Option {
	return func(o *Options) {
		o.Embedder = e
	}
}

func WithGenerator(g generator.Generator) Option {
	return func(o *Options) {
		o.Generator = g
	}
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Options) {
		o.Limiter = l
	}
}

func WithPredictorOptions(opts ...predictor.Option) Option {
	return func(o *Options) {
		o.Predictor = opts
	}
}

func WithEmbedTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.EmbedTimeout = d
	}
}

func WithEmbedRetries(n int) Option {
	return func(o *Options) {
		o.EmbedRetries = n
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.RetryBackoff = d
	}
}

func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.GenerateTimeout = d
	}
}

func WithMaxMessageLen(n int) Option {
	return func(o *Options) {
		o.MaxMessageLen = n
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		EmbedTimeout:    30 * time.Second,
		EmbedRetries:    2,
		RetryBackoff:    500 * time.Millisecond,
		GenerateTimeout: 30 * time.Second,
		MaxMessageLen:   1000,
		MaxReasonLen:    100,
		MaxSolutionLen:  500,
		MaxNotesLen:     2000,
		SystemPrompt:    defaultSystemPrompt,
		Now:             time.Now,
		Context:         context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
