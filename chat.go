package cradle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/w-h-a/cradle/fault"
	"github.com/w-h-a/cradle/store"
)

// SubmitChatMessage runs one chat turn: validate, check ownership and quota,
// assemble the prompt, call the generation service, then append the user
// message and the reply together. A turn appends exactly two messages or
// none; a stored user message with no reply would corrupt the alternating
// history the next prompt is built from.
func (s *Service) SubmitChatMessage(ctx context.Context, cryId string, userId string, text string) (Reply, error) {
	text = strings.TrimSpace(text)

	if len(text) == 0 {
		return Reply{}, fault.Invalid("message is required")
	}
	if utf8.RuneCountInString(text) > s.options.MaxMessageLen {
		return Reply{}, fault.Invalid("message exceeds %d characters", s.options.MaxMessageLen)
	}

	cry, err := s.options.Store.GetCry(ctx, cryId)
	if err != nil {
		return Reply{}, err
	}

	if cry.UserId != userId {
		return Reply{}, fault.ErrForbidden
	}

	// One quota per user across all of their cries. A rejected turn never
	// consumes a slot.
	if !s.options.Limiter.Allow(userId) {
		return Reply{}, &fault.RateLimitError{
			Limit:  s.options.Limiter.Limit(),
			Window: s.options.Limiter.Window(),
		}
	}

	// Turns on one cry are serialized from the moment they are accepted, so
	// stored history matches acceptance order even when two tabs race.
	lock := s.turnLock(cryId)
	lock.Lock()
	defer lock.Unlock()

	history, err := s.options.Store.ListMessages(ctx, cryId)
	if err != nil {
		return Reply{}, err
	}

	prompt := s.buildPrompt(cry, history, text)

	generateCtx, cancel := context.WithTimeout(ctx, s.options.GenerateTimeout)
	defer cancel()

	reply, err := s.options.Generator.Generate(generateCtx, prompt)
	if err != nil {
		slog.ErrorContext(ctx, "generation failed, discarding turn", "cry", cryId, "error", err)
		if fault.IsTransient(err) {
			return Reply{}, err
		}
		return Reply{}, fault.Transient(err)
	}

	now := s.options.Now().UTC()

	userMsg := store.Message{
		Id:        uuid.New().String(),
		CryId:     cryId,
		Sender:    store.SenderUser,
		Text:      text,
		Timestamp: now,
	}

	botMsg := store.Message{
		Id:        uuid.New().String(),
		CryId:     cryId,
		Sender:    store.SenderBot,
		Text:      reply,
		Timestamp: now.Add(1), // keep the pair ordered even at equal wall time
	}

	if err := s.options.Store.AppendTurn(ctx, userMsg, botMsg); err != nil {
		return Reply{}, err
	}

	return Reply{Text: reply, Timestamp: botMsg.Timestamp}, nil
}

// buildPrompt combines the cry's context, the full prior conversation in
// chronological order, and the new message. Truncation is the generation
// service's concern, not ours.
func (s *Service) buildPrompt(cry store.Cry, history []store.Message, text string) string {
	reason := cry.Reason
	if len(reason) == 0 {
		reason = "not yet determined"
	}

	solution := cry.Solution
	if len(solution) == 0 {
		solution = "not yet recorded"
	}

	notes := cry.Notes
	if len(notes) == 0 {
		notes = "none"
	}

	var sb bytes.Buffer

	// 1. System framing
	sb.WriteString(s.options.SystemPrompt + "\n")

	// 2. Cry context
	sb.WriteString("\nContext:\n")
	fmt.Fprintf(&sb, "- Cry reason: %s\n", reason)
	fmt.Fprintf(&sb, "- Solution that helped: %s\n", solution)
	fmt.Fprintf(&sb, "- Time recorded: %s\n", cry.RecordedAt.Format("January 2, 2006 at 3:04 PM"))
	fmt.Fprintf(&sb, "- Parent's notes: %s\n", notes)

	// 3. Prior turns, oldest first
	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			role := "Parent"
			if msg.Sender == store.SenderBot {
				role = "Assistant"
			}
			fmt.Fprintf(&sb, "[%s]: %s\n", role, msg.Text)
		}
	}

	// 4. The new message
	fmt.Fprintf(&sb, "\nParent: %s", text)

	return sb.String()
}
