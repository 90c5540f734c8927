package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/predictor"
	"github.com/w-h-a/cradle/store"
)

type memoryStore struct {
	options  store.Options
	cries    map[string]store.Cry
	messages map[string][]store.Message
	mtx      sync.RWMutex
}

func (s *memoryStore) AppendCry(ctx context.Context, cry store.Cry) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.cries[cry.Id] = clone(cry)

	return nil
}

func (s *memoryStore) GetCry(ctx context.Context, cryId string) (store.Cry, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	cry, ok := s.cries[cryId]
	if !ok {
		return store.Cry{}, fault.ErrNotFound
	}

	return clone(cry), nil
}

func (s *memoryStore) UpdateCry(ctx context.Context, cry store.Cry) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.cries[cry.Id]; !ok {
		return fault.ErrNotFound
	}

	s.cries[cry.Id] = clone(cry)

	return nil
}

func (s *memoryStore) AllLabeledExamples(ctx context.Context, userId string) ([]predictor.Example, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var eligible []store.Cry

	for _, cry := range s.cries {
		if cry.UserId != userId || !cry.Labeled() {
			continue
		}
		if s.options.ConfirmedOnly && cry.Validation != store.ValidationConfirmed {
			continue
		}
		eligible = append(eligible, cry)
	}

	// map iteration order is random; callers expect a stable corpus
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].RecordedAt.Equal(eligible[j].RecordedAt) {
			return eligible[i].RecordedAt.Before(eligible[j].RecordedAt)
		}
		return eligible[i].Id < eligible[j].Id
	})

	examples := make([]predictor.Example, 0, len(eligible))
	for _, cry := range eligible {
		vec := make([]float32, len(cry.Embedding))
		copy(vec, cry.Embedding)

		examples = append(examples, predictor.Example{
			Embedding:  vec,
			Reason:     cry.Reason,
			Solution:   cry.Solution,
			RecordedAt: cry.RecordedAt,
		})
	}

	return examples, nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, msg store.Message) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.append(msg)

	return nil
}

func (s *memoryStore) AppendTurn(ctx context.Context, userMsg store.Message, botMsg store.Message) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.append(userMsg)
	s.append(botMsg)

	return nil
}

func (s *memoryStore) append(msg store.Message) {
	if len(msg.Id) == 0 {
		msg.Id = uuid.New().String()
	}

	s.messages[msg.CryId] = append(s.messages[msg.CryId], msg)
}

func (s *memoryStore) ListMessages(ctx context.Context, cryId string) ([]store.Message, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	msgs := make([]store.Message, len(s.messages[cryId]))
	copy(msgs, s.messages[cryId])

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})

	return msgs, nil
}

func clone(cry store.Cry) store.Cry {
	if cry.Embedding != nil {
		vec := make([]float32, len(cry.Embedding))
		copy(vec, cry.Embedding)
		cry.Embedding = vec
	}
	return cry
}

func NewStore(opts ...store.Option) store.Store {
	options := store.NewOptions(opts...)

	s := &memoryStore{
		options:  options,
		cries:    map[string]store.Cry{},
		messages: map[string][]store.Message{},
		mtx:      sync.RWMutex{},
	}

	return s
}
