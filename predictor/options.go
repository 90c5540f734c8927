package predictor

type Option func(*Options)

type Options struct {
	MinCorpus int
	Neighbors int
	Agreement float64
}

func WithMinCorpus(n int) Option {
	return func(o *Options) {
		o.MinCorpus = n
	}
}

func WithNeighbors(k int) Option {
	return func(o *Options) {
		o.Neighbors = k
	}
}

func WithAgreement(fraction float64) Option {
	return func(o *Options) {
		o.Agreement = fraction
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		MinCorpus: 3,   // below this a neighbor vote is no better than a coin flip
		Neighbors: 5,
		Agreement: 0.6, // fraction of neighbors that must share one (reason, solution) pair
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
