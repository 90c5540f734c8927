package store

import (
	"context"
	"time"

	"github.com/w-h-a/cradle/predictor"
)

type Source string

const (
	SourceNone Source = "none"
	SourceUser Source = "user"
	SourceAI   Source = "ai"
)

type Validation string

const (
	ValidationUnreviewed Validation = "unreviewed"
	ValidationConfirmed  Validation = "confirmed"
	ValidationRejected   Validation = "rejected"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Cry is one recorded clip and everything learned about it. RecordedAt is
// client-supplied and immutable; Embedding stays nil until extraction
// succeeds; Failure carries the diagnostic when Status is failed.
type Cry struct {
	Id             string
	UserId         string
	RecordedAt     time.Time
	Embedding      []float32
	Reason         string
	ReasonSource   Source
	Solution       string
	SolutionSource Source
	Confidence     string
	Validation     Validation
	Notes          string
	Status         Status
	Failure        string
	CreatedAt      time.Time
}

// Labeled reports whether the cry is eligible as a corpus example: it has an
// embedding and a reason that came from somewhere.
func (c Cry) Labeled() bool {
	return len(c.Embedding) > 0 && c.ReasonSource != SourceNone && c.ReasonSource != "" && len(c.Reason) > 0
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one chat turn half, owned by exactly one cry. Messages are
// append-only and ordered by timestamp.
type Message struct {
	Id        string
	CryId     string
	Sender    Sender
	Text      string
	Timestamp time.Time
}

type Store interface {
	AppendCry(ctx context.Context, cry Cry) error
	GetCry(ctx context.Context, cryId string) (Cry, error)
	UpdateCry(ctx context.Context, cry Cry) error
	// AllLabeledExamples returns the owner's corpus only: cross-user
	// isolation is a hard invariant, not an optimization.
	AllLabeledExamples(ctx context.Context, userId string) ([]predictor.Example, error)
	AppendMessage(ctx context.Context, msg Message) error
	// AppendTurn persists a user message and the bot reply as one unit so a
	// half-written turn can never be observed.
	AppendTurn(ctx context.Context, userMsg Message, botMsg Message) error
	ListMessages(ctx context.Context, cryId string) ([]Message, error)
}
