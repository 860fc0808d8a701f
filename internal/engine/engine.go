// Package engine drives the interview session lifecycle: opening turns,
// streamed live exchanges, closing summaries, and voice-transcript saves.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/avermeer/fieldwork/internal/errors"
	"github.com/avermeer/fieldwork/internal/interview"
	"github.com/avermeer/fieldwork/internal/llm"
	"github.com/avermeer/fieldwork/internal/prompt"
	"github.com/avermeer/fieldwork/internal/storage"
)

type Store interface {
	GetStudy(id string) (interview.Study, error)
	CreateSession(sess interview.Session) error
	GetSession(id string) (interview.Session, error)
	CompleteSession(id string, completedAt time.Time) error
	AppendMessage(msg interview.Message) error
	AppendTurns(sessionID string, turns []interview.Turn, base time.Time) ([]interview.Message, error)
	GetMessages(sessionID string) ([]interview.Message, error)
}

type EventBroadcaster interface {
	BroadcastSessionStarted(studyID, sessionID string)
	BroadcastTurnAppended(sessionID, role string)
	BroadcastSessionCompleted(sessionID string)
}

type Engine struct {
	store Store
	chat  llm.Client
	hub   EventBroadcaster

	now   func() time.Time
	newID func() string
}

func New(store Store, chat llm.Client, hub EventBroadcaster) *Engine {
	return &Engine{
		store: store,
		chat:  chat,
		hub:   hub,
		now:   time.Now,
		newID: storage.NewID,
	}
}

// View is the read model for a single session: its study context plus the
// message history.
type View struct {
	Session  interview.Session   `json:"session"`
	Study    interview.Study     `json:"study"`
	Messages []interview.Message `json:"messages"`
}

// CreateSession opens a session against a study and front-loads the opening
// exchange: a stage-direction user turn plus the model's greeting. The
// session row is written only after the opening generation succeeds, so an
// upstream failure persists nothing.
func (e *Engine) CreateSession(ctx context.Context, studyID, participantName string) (interview.Session, string, error) {
	study, err := e.getStudy(studyID)
	if err != nil {
		return interview.Session{}, "", err
	}
	if e.chat == nil {
		return interview.Session{}, "", apperrors.NewUpstream(fmt.Errorf("no language model configured"))
	}

	opening, err := e.chat.Complete(ctx, []llm.Message{
		{Role: "system", Content: prompt.System(study)},
		{Role: interview.RoleUser, Content: prompt.OpeningDirection},
	})
	if err != nil {
		return interview.Session{}, "", apperrors.NewUpstream(fmt.Errorf("generate opening turn: %w", err))
	}

	sess := interview.Session{
		ID:              e.newID(),
		StudyID:         study.ID,
		ParticipantName: participantName,
		Status:          interview.StatusActive,
		StartedAt:       e.now().UTC(),
	}
	if err := e.store.CreateSession(sess); err != nil {
		return interview.Session{}, "", fmt.Errorf("persist session: %w", err)
	}

	turns := []interview.Turn{
		{Role: interview.RoleUser, Content: prompt.OpeningDirection},
		{Role: interview.RoleAssistant, Content: opening},
	}
	if _, err := e.store.AppendTurns(sess.ID, turns, sess.StartedAt); err != nil {
		return interview.Session{}, "", fmt.Errorf("persist opening exchange: %w", err)
	}

	if e.hub != nil {
		e.hub.BroadcastSessionStarted(study.ID, sess.ID)
	}

	return sess, opening, nil
}

// PostTurn appends the participant's turn, replays the full ordered history
// to the model, and streams the reply through onDelta. The assistant message
// is persisted only after the stream has fully drained server-side;
// generation runs detached from the caller's context so a client disconnect
// cannot lose the turn.
func (e *Engine) PostTurn(ctx context.Context, sessionID, text string, onDelta func(delta string)) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperrors.NewValidation("message content is required")
	}

	sess, err := e.getActiveSession(sessionID)
	if err != nil {
		return "", err
	}

	study, err := e.getStudy(sess.StudyID)
	if err != nil {
		return "", err
	}
	if e.chat == nil {
		return "", apperrors.NewUpstream(fmt.Errorf("no language model configured"))
	}

	userMsg := interview.Message{
		ID:        e.newID(),
		SessionID: sess.ID,
		Role:      interview.RoleUser,
		Content:   text,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AppendMessage(userMsg); err != nil {
		return "", fmt.Errorf("persist participant turn: %w", err)
	}
	if e.hub != nil {
		e.hub.BroadcastTurnAppended(sess.ID, interview.RoleUser)
	}

	history, err := e.conversation(study, sess.ID)
	if err != nil {
		return "", err
	}

	reply, err := llm.StreamOrComplete(context.WithoutCancel(ctx), e.chat, history, onDelta)
	if err != nil {
		return "", apperrors.NewUpstream(fmt.Errorf("generate interviewer turn: %w", err))
	}

	assistantMsg := interview.Message{
		ID:        e.newID(),
		SessionID: sess.ID,
		Role:      interview.RoleAssistant,
		Content:   reply,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.AppendMessage(assistantMsg); err != nil {
		return "", fmt.Errorf("persist interviewer turn: %w", err)
	}
	if e.hub != nil {
		e.hub.BroadcastTurnAppended(sess.ID, interview.RoleAssistant)
	}

	return reply, nil
}

// EndSession runs the closing summary exchange and only then completes the
// session. If summarization fails the session stays active; a transcript is
// never closed without its recorded closing exchange.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (string, error) {
	sess, err := e.getActiveSession(sessionID)
	if err != nil {
		return "", err
	}

	study, err := e.getStudy(sess.StudyID)
	if err != nil {
		return "", err
	}

	history, err := e.conversation(study, sess.ID)
	if err != nil {
		return "", err
	}
	history = append(history, llm.Message{Role: interview.RoleUser, Content: prompt.ClosingDirection})

	if e.chat == nil {
		return "", apperrors.NewUpstream(fmt.Errorf("no language model configured"))
	}
	closing, err := e.chat.Complete(context.WithoutCancel(ctx), history)
	if err != nil {
		return "", apperrors.NewUpstream(fmt.Errorf("generate closing summary: %w", err))
	}

	turns := []interview.Turn{
		{Role: interview.RoleUser, Content: prompt.ClosingDirection},
		{Role: interview.RoleAssistant, Content: closing},
	}
	if _, err := e.store.AppendTurns(sess.ID, turns, e.now().UTC()); err != nil {
		return "", fmt.Errorf("persist closing exchange: %w", err)
	}

	if err := e.complete(sess.ID); err != nil {
		return "", err
	}

	return closing, nil
}

// SaveVoiceTranscript is the server side of the voice reconciler: it inserts
// a client-observed turn batch in arrival order with synthetic increasing
// timestamps and completes the session.
func (e *Engine) SaveVoiceTranscript(ctx context.Context, sessionID string, turns []interview.Turn) ([]interview.Message, error) {
	if len(turns) == 0 {
		return nil, apperrors.NewValidation("at least one turn is required")
	}

	normalized := make([]interview.Turn, 0, len(turns))
	for i, turn := range turns {
		role, err := normalizeRole(turn.Role)
		if err != nil {
			return nil, apperrors.NewValidation(fmt.Sprintf("turn %d: %v", i, err))
		}
		normalized = append(normalized, interview.Turn{Role: role, Content: turn.Content})
	}

	sess, err := e.getActiveSession(sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := e.store.AppendTurns(sess.ID, normalized, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("persist voice transcript: %w", err)
	}

	if err := e.complete(sess.ID); err != nil {
		return nil, err
	}

	return messages, nil
}

// SessionView loads a session with its study context and message history,
// filtering stage directions unless includeAll is set.
func (e *Engine) SessionView(ctx context.Context, sessionID string, includeAll bool) (View, error) {
	sess, err := e.getSession(sessionID)
	if err != nil {
		return View{}, err
	}

	study, err := e.getStudy(sess.StudyID)
	if err != nil {
		return View{}, err
	}

	messages, err := e.store.GetMessages(sess.ID)
	if err != nil {
		return View{}, fmt.Errorf("load messages: %w", err)
	}
	if !includeAll {
		messages = interview.VisibleMessages(messages)
	}

	return View{Session: sess, Study: study, Messages: messages}, nil
}

// conversation rebuilds the model context: the study system prompt followed
// by the session's full ordered history, stage directions included.
func (e *Engine) conversation(study interview.Study, sessionID string) ([]llm.Message, error) {
	history, err := e.store.GetMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: prompt.System(study)})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

func (e *Engine) getStudy(id string) (interview.Study, error) {
	study, err := e.store.GetStudy(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interview.Study{}, apperrors.NewNotFound("study", id)
		}
		return interview.Study{}, fmt.Errorf("load study: %w", err)
	}
	return study, nil
}

func (e *Engine) getSession(id string) (interview.Session, error) {
	sess, err := e.store.GetSession(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interview.Session{}, apperrors.NewNotFound("session", id)
		}
		return interview.Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (e *Engine) getActiveSession(id string) (interview.Session, error) {
	sess, err := e.getSession(id)
	if err != nil {
		return interview.Session{}, err
	}
	if sess.Status != interview.StatusActive {
		return interview.Session{}, apperrors.NewInvalidState(fmt.Sprintf("session %s is %s", id, sess.Status))
	}
	return sess, nil
}

func (e *Engine) complete(sessionID string) error {
	if err := e.store.CompleteSession(sessionID, e.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotActive) {
			return apperrors.NewInvalidState(fmt.Sprintf("session %s is already completed", sessionID))
		}
		return fmt.Errorf("complete session: %w", err)
	}

	if e.hub != nil {
		e.hub.BroadcastSessionCompleted(sessionID)
	}
	return nil
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case interview.RoleUser, "human", "participant":
		return interview.RoleUser, nil
	case interview.RoleAssistant, "ai", "agent", "interviewer":
		return interview.RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}
