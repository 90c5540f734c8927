package store

import "context"

type Option func(*Options)

type Options struct {
	Location      string
	ConfirmedOnly bool
	Context       context.Context
}

func WithLocation(loc string) Option {
	return func(o *Options) {
		o.Location = loc
	}
}

// WithConfirmedOnly restricts the corpus to cries whose prediction the user
// confirmed. By default any labeled cry counts, regardless of review state:
// validation gates how a prediction was obtained, not whether the label is a
// fact for retrieval.
func WithConfirmedOnly(confirmedOnly bool) Option {
	return func(o *Options) {
		o.ConfirmedOnly = confirmedOnly
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
