// Package planner turns a free-text research goal into a persisted study
// with a generated interview guide.
package planner

import (
	"context"
	"encoding/json"
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
	CreateStudy(study interview.Study) error
}

type Planner struct {
	store  Store
	client llm.Client

	now   func() time.Time
	newID func() string
}

func New(store Store, client llm.Client) *Planner {
	return &Planner{
		store:  store,
		client: client,
		now:    time.Now,
		newID:  storage.NewID,
	}
}

// CreateStudy validates the inputs, generates an interview guide, and
// persists the study. A guide that fails to parse is preserved raw rather
// than blocking creation; an upstream failure aborts with no study row.
func (p *Planner) CreateStudy(ctx context.Context, title, researchGoals, systemPrompt string) (interview.Study, error) {
	if strings.TrimSpace(title) == "" {
		return interview.Study{}, apperrors.NewValidation("title is required")
	}
	if strings.TrimSpace(researchGoals) == "" {
		return interview.Study{}, apperrors.NewValidation("research_goals is required")
	}
	if p.client == nil {
		return interview.Study{}, apperrors.NewUpstream(fmt.Errorf("no language model configured"))
	}

	raw, err := p.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: prompt.PlanInstruction()},
		{Role: "user", Content: prompt.PlanRequest(title, researchGoals)},
	})
	if err != nil {
		return interview.Study{}, apperrors.NewUpstream(fmt.Errorf("generate interview guide: %w", err))
	}

	study := interview.Study{
		ID:            p.newID(),
		Title:         title,
		ResearchGoals: researchGoals,
		Guide:         ParseGuide(raw),
		SystemPrompt:  systemPrompt,
		CreatedAt:     p.now().UTC(),
	}

	if err := p.store.CreateStudy(study); err != nil {
		return interview.Study{}, fmt.Errorf("persist study: %w", err)
	}

	return study, nil
}

// ParseGuide parses model output into the structured guide, tolerating
// markdown code fences. Output that does not parse into at least one section
// comes back on the raw branch so the generation's text is never discarded.
func ParseGuide(raw string) interview.Guide {
	var guide interview.Guide
	if err := json.Unmarshal([]byte(stripFence(raw)), &guide); err != nil || len(guide.Sections) == 0 {
		return interview.Guide{Raw: raw}
	}
	guide.Raw = ""
	return guide
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
