// Package interview holds the Fieldwork domain model: studies, interview
// guides, sessions, messages, and insights.
package interview

import (
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session statuses. Transitions are monotonic: active -> completed only.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Study is a qualitative research project.
type Study struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ResearchGoals string    `json:"research_goals"`
	Guide         Guide     `json:"interview_guide"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// GuideQuestion is one main prompt plus its probe follow-ups, in order.
type GuideQuestion struct {
	Question string   `json:"question"`
	Probes   []string `json:"probes,omitempty"`
}

// GuideSection is one ordered section of an interview guide.
type GuideSection struct {
	Title     string          `json:"title"`
	Purpose   string          `json:"purpose"`
	Questions []GuideQuestion `json:"questions"`
}

// Guide is the two-variant parse result of guide generation: either a
// structured plan or the raw model text preserved as-is. Exactly one branch
// is populated; a zero Guide means no guide at all.
type Guide struct {
	Sections         []GuideSection `json:"sections,omitempty"`
	EstimatedMinutes int            `json:"estimated_duration_minutes,omitempty"`
	OpeningContext   string         `json:"opening_context,omitempty"`

	// Raw holds the model's unparseable output. Logic that inspects
	// sections treats such a guide as absent.
	Raw string `json:"raw,omitempty"`
}

// IsStructured reports whether the guide parsed into sections.
func (g Guide) IsStructured() bool {
	return len(g.Sections) > 0
}

// IsZero reports whether no guide was stored at all.
func (g Guide) IsZero() bool {
	return len(g.Sections) == 0 && g.Raw == ""
}

// Session is one participant's run through a study's interview.
type Session struct {
	ID              string     `json:"id"`
	StudyID         string     `json:"study_id"`
	ParticipantName string     `json:"participant_name,omitempty"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Message is one turn within a session transcript. Append-only; created_at
// is the sole ordering key.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// IsStageDirection reports whether m is a system-injected stage direction
// disguised as a user turn (bracket-prefixed) rather than real participant
// speech.
func (m Message) IsStageDirection() bool {
	return m.Role == RoleUser && strings.HasPrefix(m.Content, "[")
}

// VisibleMessages filters out stage directions, leaving the human-facing
// transcript.
func VisibleMessages(messages []Message) []Message {
	visible := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsStageDirection() {
			continue
		}
		visible = append(visible, m)
	}
	return visible
}

// Quote is one supporting quote attached to an insight.
type Quote struct {
	Quote   string `json:"quote"`
	Context string `json:"context,omitempty"`
}

// Insight is one extracted theme produced by batch analysis of a study's
// completed sessions.
type Insight struct {
	ID        string    `json:"id"`
	StudyID   string    `json:"study_id"`
	Theme     string    `json:"theme"`
	Summary   string    `json:"summary"`
	Quotes    []Quote   `json:"supporting_quotes"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is a single (role, content) pair observed client-side during a voice
// conversation, reconciled into messages in one batch at session end.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
