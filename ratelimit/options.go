package ratelimit

import "time"

type Option func(*Options)

type Options struct {
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

func WithLimit(limit int) Option {
	return func(o *Options) {
		o.Limit = limit
	}
}

func WithWindow(window time.Duration) Option {
	return func(o *Options) {
		o.Window = window
	}
}

// WithNow overrides the clock. Tests use this to slide the window.
func WithNow(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Limit:  30,
		Window: time.Hour,
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
