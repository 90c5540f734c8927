package cradle

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/ratelimit"
	"github.com/w-h-a/cradle/store"
)

// Service is the prediction and advice pipeline: it owns the per-cry
// processing state machine, the nearest-neighbor prediction step, and the
// chat context assembler. Transport, auth, and the external AI services live
// outside it.
type Service struct {
	options Options
	turns   map[string]*sync.Mutex
	mtx     sync.Mutex
	wg      sync.WaitGroup
}

func New(opts ...Option) *Service {
	options := NewOptions(opts...)

	if options.Store == nil || options.Embedder == nil || options.Generator == nil {
		panic("cradle requires a store, an embedder, and a generator")
	}

	if options.Limiter == nil {
		options.Limiter = ratelimit.New()
	}

	return &Service{
		options: options,
		turns:   map[string]*sync.Mutex{},
	}
}

type Prediction struct {
	Reason     string
	Solution   string
	Confidence string
}

// StatusPayload is what pollers see. Prediction is present only when the
// engine produced one; NeedsLabel tells the caller that manual input is
// expected. Neither is an error: a ready cry may simply have no prediction.
type StatusPayload struct {
	State      store.Status
	Prediction *Prediction
	NeedsLabel bool
	Failure    string
}

type Reply struct {
	Text      string
	Timestamp time.Time
}

// CreateCry persists the record in the processing state and hands the heavy
// work to a background goroutine. The caller gets the id back immediately and
// polls GetStatus.
func (s *Service) CreateCry(ctx context.Context, userId string, audio []byte, recordedAt time.Time) (string, error) {
	if len(strings.TrimSpace(userId)) == 0 {
		return "", fault.Invalid("user id is required")
	}
	if len(audio) == 0 {
		return "", fault.Invalid("audio is required")
	}
	if recordedAt.IsZero() {
		return "", fault.Invalid("recorded_at is required")
	}

	cry := store.Cry{
		Id:             uuid.New().String(),
		UserId:         userId,
		RecordedAt:     recordedAt.UTC(),
		ReasonSource:   store.SourceNone,
		SolutionSource: store.SourceNone,
		Validation:     store.ValidationUnreviewed,
		Status:         store.StatusProcessing,
		CreatedAt:      s.options.Now().UTC(),
	}

	if err := s.options.Store.AppendCry(ctx, cry); err != nil {
		return "", err
	}

	audioCopy := make([]byte, len(audio))
	copy(audioCopy, audio)

	s.wg.Add(1)
	go s.process(cry, audioCopy)

	return cry.Id, nil
}

// GetStatus is side-effect-free and may be polled arbitrarily often.
func (s *Service) GetStatus(ctx context.Context, cryId string) (StatusPayload, error) {
	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		return StatusPayload{}, err
	}

	payload := StatusPayload{State: cry.Status}

	switch cry.Status {
	case store.StatusFailed:
		payload.Failure = cry.Failure
	case store.StatusReady:
		if cry.ReasonSource == store.SourceAI {
			payload.Prediction = &Prediction{
				Reason:     cry.Reason,
				Solution:   cry.Solution,
				Confidence: cry.Confidence,
			}
		}
		payload.NeedsLabel = len(cry.Reason) == 0
	}

	return payload, nil
}

func (s *Service) GetCry(ctx context.Context, cryId string) (store.Cry, error) {
	return s.options.Store.GetCry(ctx, cryId)
}

// RecordLabel stores a user-supplied reason and solution. User edits are
// allowed in any processing state and always carry the user source tag; a
// fresh label resets the review state since there is no prediction left to
// review.
func (s *Service) RecordLabel(ctx context.Context, cryId string, reason string, solution string) (store.Cry, error) {
	reason = strings.TrimSpace(reason)
	solution = strings.TrimSpace(solution)

	if len(reason) == 0 {
		return store.Cry{}, fault.Invalid("reason is required")
	}
	if utf8.RuneCountInString(reason) > s.options.MaxReasonLen {
		return store.Cry{}, fault.Invalid("reason exceeds %d characters", s.options.MaxReasonLen)
	}
	if utf8.RuneCountInString(solution) > s.options.MaxSolutionLen {
		return store.Cry{}, fault.Invalid("solution exceeds %d characters", s.options.MaxSolutionLen)
	}

	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		return store.Cry{}, err
	}

	cry.Reason = reason
	cry.ReasonSource = store.SourceUser
	cry.Solution = solution
	if len(solution) > 0 {
		cry.SolutionSource = store.SourceUser
	} else {
		cry.SolutionSource = store.SourceNone
	}
	cry.Confidence = ""
	cry.Validation = store.ValidationUnreviewed

	if err := s.options.Store.UpdateCry(ctx, cry); err != nil {
		return store.Cry{}, err
	}

	return cry, nil
}

// ValidatePrediction records the user's reaction to an AI prediction.
func (s *Service) ValidatePrediction(ctx context.Context, cryId string, accepted bool) (store.Cry, error) {
	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		return store.Cry{}, err
	}

	if cry.ReasonSource != store.SourceAI {
		return store.Cry{}, fault.Invalid("no prediction to review")
	}

	if accepted {
		cry.Validation = store.ValidationConfirmed
	} else {
		cry.Validation = store.ValidationRejected
	}

	if err := s.options.Store.UpdateCry(ctx, cry); err != nil {
		return store.Cry{}, err
	}

	return cry, nil
}

func (s *Service) UpdateNotes(ctx context.Context, cryId string, notes string) (store.Cry, error) {
	if utf8.RuneCountInString(notes) > s.options.MaxNotesLen {
		return store.Cry{}, fault.Invalid("notes exceed %d characters", s.options.MaxNotesLen)
	}

	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		return store.Cry{}, err
	}

	cry.Notes = notes

	if err := s.options.Store.UpdateCry(ctx, cry); err != nil {
		return store.Cry{}, err
	}

	return cry, nil
}

func (s *Service) ChatHistory(ctx context.Context, cryId string) ([]store.Message, error) {
	if _, err := s.options.Store.GetCry(ctx, cryId); err != nil {
		return nil, err
	}

	return s.options.Store.ListMessages(ctx, cryId)
}

// Wait blocks until all in-flight background processing has finished. The
// daemon calls this on shutdown; tests call it to observe terminal states.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) turnLock(cryId string) *sync.Mutex {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	lock, ok := s.turns[cryId]
	if !ok {
		lock = &sync.Mutex{}
		s.turns[cryId] = lock
	}

	return lock
}
