package cradle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/store"
	memorystore "github.com/w-h-a/cradle/store/memory"
)

// --- mocks ---

type mockEmbedder struct {
	mtx     sync.Mutex
	calls   int
	embedFn func(ctx context.Context, audio []byte) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, audio []byte) ([]float32, error) {
	m.mtx.Lock()
	m.calls++
	m.mtx.Unlock()

	if m.embedFn != nil {
		return m.embedFn(ctx, audio)
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) Calls() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.calls
}

type mockGenerator struct {
	mtx        sync.Mutex
	calls      int
	lastPrompt string
	generateFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.mtx.Lock()
	m.calls++
	m.lastPrompt = prompt
	m.mtx.Unlock()

	if m.generateFn != nil {
		return m.generateFn(ctx, prompt)
	}
	return "try a feed", nil
}

func (m *mockGenerator) Calls() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.calls
}

func (m *mockGenerator) LastPrompt() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.lastPrompt
}

// --- helpers ---

func newTestService(emb *mockEmbedder, gen *mockGenerator, extra ...Option) (*Service, store.Store) {
	st := memorystore.NewStore()

	opts := []Option{
		WithStore(st),
		WithEmbedder(emb),
		WithGenerator(gen),
		WithRetryBackoff(0),
	}
	opts = append(opts, extra...)

	return New(opts...), st
}

func seedExample(t *testing.T, st store.Store, id, userId string, vec []float32, reason, solution string, recordedAt time.Time) {
	t.Helper()

	err := st.AppendCry(context.Background(), store.Cry{
		Id:             id,
		UserId:         userId,
		RecordedAt:     recordedAt,
		Embedding:      vec,
		Reason:         reason,
		ReasonSource:   store.SourceUser,
		Solution:       solution,
		SolutionSource: store.SourceUser,
		Validation:     store.ValidationUnreviewed,
		Status:         store.StatusReady,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// --- tests ---

func TestUploadProducesHighConfidencePrediction(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	emb := &mockEmbedder{embedFn: func(ctx context.Context, audio []byte) ([]float32, error) {
		return []float32{0.99, 0.01, 0}, nil
	}}
	svc, st := newTestService(emb, &mockGenerator{})

	seedExample(t, st, "past-1", "parent-1", []float32{1, 0, 0}, "Hungry", "Fed bottle", base)
	seedExample(t, st, "past-2", "parent-1", []float32{0.95, 0.05, 0}, "Hungry", "Fed bottle", base.Add(time.Hour))
	seedExample(t, st, "past-3", "parent-1", []float32{0, 0, 1}, "Tired", "Rocked", base.Add(2*time.Hour))

	cryId, err := svc.CreateCry(ctx, "parent-1", []byte("audio"), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Wait()

	payload, err := svc.GetStatus(ctx, cryId)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if payload.State != store.StatusReady {
		t.Fatalf("expected ready, got %s (%s)", payload.State, payload.Failure)
	}
	if payload.Prediction == nil {
		t.Fatal("expected a prediction")
	}
	if payload.Prediction.Reason != "Hungry" || payload.Prediction.Solution != "Fed bottle" {
		t.Fatalf("unexpected prediction: %+v", payload.Prediction)
	}
	if payload.Prediction.Confidence != "high" {
		t.Fatalf("expected high confidence, got %s", payload.Prediction.Confidence)
	}

	cry, err := svc.GetCry(ctx, cryId)
	if err != nil {
		t.Fatalf("get cry: %v", err)
	}
	if cry.ReasonSource != store.SourceAI || cry.SolutionSource != store.SourceAI {
		t.Fatalf("prediction should carry the ai source tag: %+v", cry)
	}
	if len(cry.Embedding) == 0 {
		t.Fatal("embedding should be persisted")
	}
}

func TestUploadWithSmallCorpusNeedsLabeling(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(&mockEmbedder{}, &mockGenerator{})

	cryId, err := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Wait()

	payload, err := svc.GetStatus(ctx, cryId)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if payload.State != store.StatusReady {
		t.Fatalf("manual labeling is still ready, got %s", payload.State)
	}
	if payload.Prediction != nil {
		t.Fatalf("expected no prediction, got %+v", payload.Prediction)
	}
	if !payload.NeedsLabel {
		t.Fatal("caller should be told manual labeling is expected")
	}
}

func TestEmbeddingFailureExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()

	emb := &mockEmbedder{embedFn: func(ctx context.Context, audio []byte) ([]float32, error) {
		return nil, fault.Transient(errors.New("inference service timed out"))
	}}
	svc, _ := newTestService(emb, &mockGenerator{})

	cryId, err := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Now())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.Wait()

	// 1 initial attempt + 2 retries
	if got := emb.Calls(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}

	payload, err := svc.GetStatus(ctx, cryId)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if payload.State != store.StatusFailed {
		t.Fatalf("expected failed, got %s", payload.State)
	}
	if !strings.Contains(payload.Failure, "inference service timed out") {
		t.Fatalf("expected a diagnostic, got %q", payload.Failure)
	}

	// polling is idempotent and the state is terminal
	again, err := svc.GetStatus(ctx, cryId)
	if err != nil {
		t.Fatalf("status again: %v", err)
	}
	if again.State != store.StatusFailed || again.Failure != payload.Failure {
		t.Fatalf("terminal state changed: %+v vs %+v", again, payload)
	}
}

func TestNonTransientEmbeddingErrorFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()

	emb := &mockEmbedder{embedFn: func(ctx context.Context, audio []byte) ([]float32, error) {
		return nil, errors.New("unsupported audio container")
	}}
	svc, _ := newTestService(emb, &mockGenerator{})

	cryId, _ := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Now())
	svc.Wait()

	if got := emb.Calls(); got != 1 {
		t.Fatalf("non-transient errors must not be retried, got %d attempts", got)
	}

	payload, _ := svc.GetStatus(ctx, cryId)
	if payload.State != store.StatusFailed {
		t.Fatalf("expected failed, got %s", payload.State)
	}
}

func TestTransientFailureThenSuccess(t *testing.T) {
	ctx := context.Background()

	attempt := 0
	var mtx sync.Mutex

	emb := &mockEmbedder{embedFn: func(ctx context.Context, audio []byte) ([]float32, error) {
		mtx.Lock()
		defer mtx.Unlock()
		attempt++
		if attempt == 1 {
			return nil, fault.Transient(errors.New("blip"))
		}
		return []float32{1, 0, 0}, nil
	}}
	svc, _ := newTestService(emb, &mockGenerator{})

	cryId, _ := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Now())
	svc.Wait()

	payload, _ := svc.GetStatus(ctx, cryId)
	if payload.State != store.StatusReady {
		t.Fatalf("expected recovery to ready, got %s (%s)", payload.State, payload.Failure)
	}
}

func TestReadyIsTerminalAcrossUserEdits(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(&mockEmbedder{}, &mockGenerator{})

	cryId, _ := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Now())
	svc.Wait()

	if _, err := svc.RecordLabel(ctx, cryId, "Hungry", "Fed bottle"); err != nil {
		t.Fatalf("label: %v", err)
	}

	payload, _ := svc.GetStatus(ctx, cryId)
	if payload.State != store.StatusReady {
		t.Fatalf("user edits must not leave the terminal state, got %s", payload.State)
	}
	if payload.NeedsLabel {
		t.Fatal("labeled cry should no longer ask for labeling")
	}
}

func TestCreateCryValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(&mockEmbedder{}, &mockGenerator{})

	if _, err := svc.CreateCry(ctx, "", []byte("audio"), time.Now()); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
	if _, err := svc.CreateCry(ctx, "parent-1", nil, time.Now()); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for missing audio, got %v", err)
	}
	if _, err := svc.CreateCry(ctx, "parent-1", []byte("audio"), time.Time{}); !fault.IsValidation(err) {
		t.Fatalf("expected validation error for missing timestamp, got %v", err)
	}
}

func TestRecordLabelAndValidatePrediction(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	emb := &mockEmbedder{embedFn: func(ctx context.Context, audio []byte) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}}
	svc, st := newTestService(emb, &mockGenerator{})

	// no prediction yet: nothing to review
	cryId, _ := svc.CreateCry(ctx, "parent-1", []byte("audio"), base)
	svc.Wait()

	if _, err := svc.ValidatePrediction(ctx, cryId, true); !fault.IsValidation(err) {
		t.Fatalf("expected validation error with no prediction, got %v", err)
	}

	// seed enough corpus that the next upload gets a prediction
	seedExample(t, st, "past-1", "parent-1", []float32{1, 0, 0}, "Hungry", "Fed bottle", base)
	seedExample(t, st, "past-2", "parent-1", []float32{1, 0, 0}, "Hungry", "Fed bottle", base.Add(time.Hour))
	seedExample(t, st, "past-3", "parent-1", []float32{1, 0, 0}, "Hungry", "Fed bottle", base.Add(2*time.Hour))

	predictedId, _ := svc.CreateCry(ctx, "parent-1", []byte("audio"), base.Add(3*time.Hour))
	svc.Wait()

	updated, err := svc.ValidatePrediction(ctx, predictedId, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if updated.Validation != store.ValidationConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Validation)
	}

	// a user label overrides the prediction and resets review state
	relabeled, err := svc.RecordLabel(ctx, predictedId, "Tired", "Rocked")
	if err != nil {
		t.Fatalf("relabel: %v", err)
	}
	if relabeled.ReasonSource != store.SourceUser || relabeled.Validation != store.ValidationUnreviewed {
		t.Fatalf("unexpected record after relabel: %+v", relabeled)
	}
	if len(relabeled.Confidence) != 0 {
		t.Fatal("confidence belongs to ai predictions only")
	}
}
