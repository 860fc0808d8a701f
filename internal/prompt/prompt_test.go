package prompt

import (
	"strings"
	"testing"

	"github.com/avermeer/fieldwork/internal/interview"
)

func structuredStudy() interview.Study {
	return interview.Study{
		ID:            "study-1",
		Title:         "Onboarding friction",
		ResearchGoals: "Understand where new users get stuck.",
		Guide: interview.Guide{
			Sections: []interview.GuideSection{
				{
					Title:   "Background",
					Purpose: "ease in",
					Questions: []interview.GuideQuestion{
						{Question: "What is your role?", Probes: []string{"How long have you held it?"}},
					},
				},
				{
					Title:     "First week",
					Purpose:   "surface friction",
					Questions: []interview.GuideQuestion{{Question: "Walk me through your first day."}},
				},
			},
			EstimatedMinutes: 30,
			OpeningContext:   "A relaxed conversation about getting started.",
		},
	}
}

func TestStageDirectionsAreBracketPrefixed(t *testing.T) {
	for _, direction := range []string{OpeningDirection, ClosingDirection} {
		if !strings.HasPrefix(direction, "[") {
			t.Errorf("direction %q must be bracket-prefixed so transcripts can filter it", direction)
		}
	}
}

func TestSystemOverrideWinsVerbatim(t *testing.T) {
	study := structuredStudy()
	study.SystemPrompt = "You are a terse interviewer. One question per turn."

	if got := System(study); got != study.SystemPrompt {
		t.Errorf("System() = %q, want the override verbatim", got)
	}
}

func TestSystemDeterministic(t *testing.T) {
	study := structuredStudy()
	if System(study) != System(study) {
		t.Error("System() must be pure")
	}
}

func TestSystemIncludesStudyAndGuide(t *testing.T) {
	got := System(structuredStudy())

	for _, want := range []string{
		"Onboarding friction",
		"Understand where new users get stuck.",
		"Section 1: Background",
		"Section 2: First week",
		"What is your role?",
		"probe: How long have you held it?",
		"about 30 minutes",
		"one question at a time",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("System() is missing %q", want)
		}
	}
}

func TestRenderGuideUnstructured(t *testing.T) {
	for _, guide := range []interview.Guide{
		{},
		{Raw: "some freeform questions"},
	} {
		got := RenderGuide(guide)
		if !strings.Contains(got, "no structured interview guide") {
			t.Errorf("RenderGuide(%+v) = %q, want the placeholder", guide, got)
		}
		if strings.Contains(got, "some freeform questions") {
			t.Error("raw guide text must not leak into the system prompt")
		}
	}
}

func TestPackageTranscript(t *testing.T) {
	sess := interview.Session{ID: "sess-1", ParticipantName: "Dana"}
	messages := []interview.Message{
		{Role: interview.RoleUser, Content: "[The interview is starting.]"},
		{Role: interview.RoleAssistant, Content: "Welcome, Dana!"},
		{Role: interview.RoleUser, Content: "Happy to be here."},
	}

	got := PackageTranscript(sess, messages)
	if got.Participant != "Dana" {
		t.Errorf("participant = %q", got.Participant)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want stage directions stripped", len(got.Messages))
	}
	if got.Messages[0].Content != "Welcome, Dana!" {
		t.Errorf("first message = %q", got.Messages[0].Content)
	}
}

func TestPackageTranscriptAnonymous(t *testing.T) {
	got := PackageTranscript(interview.Session{ID: "sess-1"}, nil)
	if got.Participant != "Anonymous participant" {
		t.Errorf("participant = %q, want the anonymous label", got.Participant)
	}
}

func TestAnalysisRequestContainsAllTranscripts(t *testing.T) {
	study := structuredStudy()
	transcripts := []SessionTranscript{
		{SessionID: "s1", Participant: "Dana", Messages: []transcriptTurn{{Role: "user", Content: "Setup was slow."}}},
		{SessionID: "s2", Participant: "Kim", Messages: []transcriptTurn{{Role: "user", Content: "Docs were great."}}},
	}

	got, err := AnalysisRequest(study, transcripts)
	if err != nil {
		t.Fatalf("AnalysisRequest() error = %v", err)
	}
	for _, want := range []string{study.Title, "Dana", "Kim", "Setup was slow.", "Docs were great."} {
		if !strings.Contains(got, want) {
			t.Errorf("request is missing %q", want)
		}
	}
}

func TestPlanRequest(t *testing.T) {
	got := PlanRequest("Onboarding", "Find friction")
	if !strings.Contains(got, "Onboarding") || !strings.Contains(got, "Find friction") {
		t.Errorf("PlanRequest() = %q", got)
	}
}
