// Package analyzer runs batch thematic analysis over a study's completed
// sessions and persists extracted themes as insights.
package analyzer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/avermeer/fieldwork/internal/errors"
	"github.com/avermeer/fieldwork/internal/interview"
	"github.com/avermeer/fieldwork/internal/llm"
	"github.com/avermeer/fieldwork/internal/prompt"
)

type Store interface {
	GetStudy(id string) (interview.Study, error)
	CompletedSessions(studyID string) ([]interview.Session, error)
	GetMessages(sessionID string) ([]interview.Message, error)
	InsertInsights(studyID string, insights []interview.Insight) ([]interview.Insight, error)
}

type EventBroadcaster interface {
	BroadcastInsightsReady(studyID string, count int)
}

type Analyzer struct {
	store  Store
	client llm.Client
	hub    EventBroadcaster
}

func New(store Store, client llm.Client, hub EventBroadcaster) *Analyzer {
	return &Analyzer{store: store, client: client, hub: hub}
}

// Theme is one cross-transcript theme in the structured analysis result.
type Theme struct {
	Theme            string            `json:"theme"`
	Summary          string            `json:"summary"`
	SupportingQuotes []interview.Quote `json:"supporting_quotes"`
}

// Result is the outcome of one analysis run. Either the structured fields
// are populated and Insights holds the persisted rows, or Raw carries the
// model's unparseable text and nothing was persisted.
type Result struct {
	Themes          []Theme             `json:"themes,omitempty"`
	KeyFindings     []string            `json:"key_findings,omitempty"`
	Gaps            []string            `json:"gaps,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	Insights        []interview.Insight `json:"insights,omitempty"`
	Raw             string              `json:"raw,omitempty"`
}

// Analyze packages every completed session's visible transcript, sends the
// collection as one structured-generation request, and persists one insight
// per extracted theme. Malformed model output degrades to a raw result and
// persists nothing; repeat runs append insights without deduplication.
func (a *Analyzer) Analyze(ctx context.Context, studyID string) (Result, error) {
	study, err := a.store.GetStudy(studyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, apperrors.NewNotFound("study", studyID)
		}
		return Result{}, fmt.Errorf("load study: %w", err)
	}

	sessions, err := a.store.CompletedSessions(studyID)
	if err != nil {
		return Result{}, fmt.Errorf("load completed sessions: %w", err)
	}
	if len(sessions) == 0 {
		return Result{}, apperrors.NewValidation("no completed sessions to analyze")
	}

	transcripts := make([]prompt.SessionTranscript, 0, len(sessions))
	for _, sess := range sessions {
		messages, err := a.store.GetMessages(sess.ID)
		if err != nil {
			return Result{}, fmt.Errorf("load messages for session %s: %w", sess.ID, err)
		}
		transcripts = append(transcripts, prompt.PackageTranscript(sess, messages))
	}

	request, err := prompt.AnalysisRequest(study, transcripts)
	if err != nil {
		return Result{}, err
	}

	if a.client == nil {
		return Result{}, apperrors.NewUpstream(fmt.Errorf("no language model configured"))
	}
	raw, err := a.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: prompt.AnalysisInstruction()},
		{Role: "user", Content: request},
	})
	if err != nil {
		return Result{}, apperrors.NewUpstream(fmt.Errorf("generate analysis: %w", err))
	}

	var result Result
	if err := json.Unmarshal([]byte(stripFence(raw)), &result); err != nil || result.Themes == nil {
		return Result{Raw: raw}, nil
	}

	insights := make([]interview.Insight, 0, len(result.Themes))
	for _, theme := range result.Themes {
		insights = append(insights, interview.Insight{
			Theme:   theme.Theme,
			Summary: theme.Summary,
			Quotes:  theme.SupportingQuotes,
		})
	}

	saved, err := a.store.InsertInsights(studyID, insights)
	if err != nil {
		return Result{}, fmt.Errorf("persist insights: %w", err)
	}
	result.Insights = saved

	if a.hub != nil {
		a.hub.BroadcastInsightsReady(studyID, len(saved))
	}

	return result, nil
}

func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
