package cradle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/predictor"
	"github.com/w-h-a/cradle/store"
)

// process runs the per-cry state machine: embedding extraction, prediction,
// then exactly one transition to a terminal state. It runs detached from the
// request that created the record; mid-flight cancellation is not supported.
func (s *Service) process(cry store.Cry, audio []byte) {
	defer s.wg.Done()

	ctx := context.Background()

	vec, err := s.extract(ctx, audio)
	if err != nil {
		s.fail(ctx, cry.Id, fmt.Sprintf("embedding extraction: %v", err))
		return
	}

	corpus, err := s.options.Store.AllLabeledExamples(ctx, cry.UserId)
	if err != nil {
		s.fail(ctx, cry.Id, fmt.Sprintf("corpus read: %v", err))
		return
	}

	outcome := predictor.Predict(vec, corpus, s.options.Predictor...)

	// Re-read before finalizing: the user may have labeled or annotated the
	// cry while it was still processing, and those edits win.
	fresh, err := s.options.Store.GetCry(ctx, cry.Id)
	if err != nil {
		s.fail(ctx, cry.Id, fmt.Sprintf("finalize read: %v", err))
		return
	}

	fresh.Embedding = vec

	switch {
	case outcome.NeedsLabel:
		slog.InfoContext(ctx, "cry ready, manual labeling expected", "cry", cry.Id, "corpus", len(corpus))
	case fresh.ReasonSource == store.SourceUser:
		slog.InfoContext(ctx, "cry labeled by user mid-flight, discarding prediction", "cry", cry.Id)
	default:
		fresh.Reason = outcome.Reason
		fresh.ReasonSource = store.SourceAI
		fresh.Solution = outcome.Solution
		fresh.SolutionSource = store.SourceAI
		fresh.Confidence = string(outcome.Confidence)
		slog.InfoContext(ctx, "cry ready with prediction", "cry", cry.Id, "reason", outcome.Reason, "confidence", outcome.Confidence)
	}

	fresh.Status = store.StatusReady

	if err := s.options.Store.UpdateCry(ctx, fresh); err != nil {
		slog.ErrorContext(ctx, "failed to finalize cry", "cry", cry.Id, "error", err)
	}
}

// extract calls the embedding service with a bounded timeout per attempt and
// a fixed backoff between attempts. Only transient failures are retried;
// recovery from an exhausted run is a fresh upload.
func (s *Service) extract(ctx context.Context, audio []byte) ([]float32, error) {
	attempts := s.options.EmbedRetries + 1

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		embedCtx, cancel := context.WithTimeout(ctx, s.options.EmbedTimeout)
		vec, err := s.options.Embedder.Embed(embedCtx, audio)
		cancel()

		if err == nil {
			return vec, nil
		}

		lastErr = err

		if !retryable(err) {
			break
		}

		if attempt < attempts {
			slog.WarnContext(ctx, "embedding attempt failed, retrying", "attempt", attempt, "error", err)
			time.Sleep(s.options.RetryBackoff)
		}
	}

	return nil, lastErr
}

func retryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || fault.IsTransient(err)
}

// fail transitions the cry to its failed terminal state with an opaque
// diagnostic for operators. The core never retries a failed record; recovery
// is a fresh upload.
func (s *Service) fail(ctx context.Context, cryId string, diagnostic string) {
	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load cry for failure transition", "cry", cryId, "error", err)
		return
	}

	cry.Status = store.StatusFailed
	cry.Failure = diagnostic

	if err := s.options.Store.UpdateCry(ctx, cry); err != nil {
		slog.ErrorContext(ctx, "failed to mark cry as failed", "cry", cryId, "error", err)
		return
	}

	slog.ErrorContext(ctx, "cry processing failed", "cry", cryId, "diagnostic", diagnostic)
}
