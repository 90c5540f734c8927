package generator

import "context"

// Generator turns a fully assembled prompt into advice text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
