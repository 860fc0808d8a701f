package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/avermeer/fieldwork/internal/interview"
)

// Saver persists one conversation's turn batch and completes the session.
type Saver interface {
	SaveVoiceTranscript(ctx context.Context, sessionID string, turns []interview.Turn) ([]interview.Message, error)
}

// Conversation buffers the turns observed during one voice conversation and
// guards their save with a once-flag, so a graceful conversation-ended flush
// and a disconnect fallback racing each other cannot double-write the
// transcript. This is a guarded-once cell, not a distributed at-most-once
// guarantee; the monotonic session state in the store is the backstop.
type Conversation struct {
	sessionID string

	mu    sync.Mutex
	turns []interview.Turn
	saved bool
}

func NewConversation(sessionID string) *Conversation {
	return &Conversation{sessionID: sessionID}
}

// Observe appends one turn in arrival order.
func (c *Conversation) Observe(ev TurnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, interview.Turn{Role: ev.Source, Content: ev.Text})
}

// Turns returns a snapshot of the observed turns.
func (c *Conversation) Turns() []interview.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interview.Turn(nil), c.turns...)
}

// Flush persists the buffered turns through saver. The once-flag is set
// before the attempt; a failed graceful flush clears it again so a later
// graceful attempt can still succeed, while the best-effort disconnect path
// gets no confirmation and leaves the flag set.
func (c *Conversation) Flush(ctx context.Context, saver Saver, graceful bool) error {
	c.mu.Lock()
	if c.saved {
		c.mu.Unlock()
		return nil
	}
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no turns to save for session %s", c.sessionID)
	}
	c.saved = true
	turns := append([]interview.Turn(nil), c.turns...)
	c.mu.Unlock()

	if _, err := saver.SaveVoiceTranscript(ctx, c.sessionID, turns); err != nil {
		if graceful {
			c.mu.Lock()
			c.saved = false
			c.mu.Unlock()
		}
		return fmt.Errorf("save voice transcript: %w", err)
	}

	return nil
}

// Saved reports whether a save attempt has been accepted.
func (c *Conversation) Saved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}
