// Package prompt builds every instruction string sent to the language model.
// Everything here is pure: same study in, same text out. It is the single
// source of truth for interviewer behavior across the text and voice paths.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avermeer/fieldwork/internal/interview"
)

// Stage directions are injected as bracket-prefixed user turns so consumers
// can filter them out of the human-facing transcript.
const (
	OpeningDirection = "[The interview is starting. The participant has just joined. Greet them warmly and begin.]"
	ClosingDirection = "[The participant wants to end the interview. Summarize what you heard and thank them.]"
)

// System returns the instruction text governing the interviewer persona for
// a study. An explicit study-level override wins verbatim.
func System(study interview.Study) string {
	if strings.TrimSpace(study.SystemPrompt) != "" {
		return study.SystemPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a skilled qualitative research interviewer conducting a study titled %q.\n\n", study.Title)
	fmt.Fprintf(&b, "Research goals:\n%s\n\n", study.ResearchGoals)
	b.WriteString("Interview guide:\n")
	b.WriteString(RenderGuide(study.Guide))
	b.WriteString("\n\nConduct the interview as follows:\n")
	b.WriteString(`- Open with a short, warm greeting and one sentence on what the conversation is about.
- Before any real content, ask a simple yes/no question to confirm the participant is ready.
- Progress strictly from easy factual questions to medium opinion questions to hard strategic or reflective questions.
- Ask exactly one question at a time and wait for the answer.
- When an answer is vague or general, probe for a concrete example before moving on.
- Never lead the participant toward an answer or suggest what you expect to hear.
- Mirror back what you heard in your own words and ask whether you got it right.
- Close by summarizing the main things you learned and inviting the participant to add anything you did not ask about.`)

	return b.String()
}

// RenderGuide formats a guide for inclusion in the system prompt. Raw or
// absent guides get a placeholder; section inspection only applies to the
// structured branch.
func RenderGuide(guide interview.Guide) string {
	if !guide.IsStructured() {
		return "(no structured interview guide is available; improvise a sensible progression from the research goals)"
	}

	var b strings.Builder
	if guide.OpeningContext != "" {
		fmt.Fprintf(&b, "Opening context: %s\n", guide.OpeningContext)
	}
	if guide.EstimatedMinutes > 0 {
		fmt.Fprintf(&b, "Target length: about %d minutes.\n", guide.EstimatedMinutes)
	}

	for i, section := range guide.Sections {
		fmt.Fprintf(&b, "\nSection %d: %s\nPurpose: %s\n", i+1, section.Title, section.Purpose)
		for j, q := range section.Questions {
			fmt.Fprintf(&b, "  %d.%d %s\n", i+1, j+1, q.Question)
			for _, probe := range q.Probes {
				fmt.Fprintf(&b, "      probe: %s\n", probe)
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// PlanInstruction is the fixed contract for guide generation.
func PlanInstruction() string {
	return `You design interview guides for qualitative research studies. Respond with a single JSON object and nothing else — no markdown fences, no commentary. The object must have this shape:
{
  "sections": [
    {
      "title": "...",
      "purpose": "...",
      "questions": [
        {"question": "...", "probes": ["...", "..."]}
      ]
    }
  ],
  "estimated_duration_minutes": 30,
  "opening_context": "..."
}
Produce 4 to 6 sections ordered from easy, factual openers to harder, reflective closers. Each section has 2 to 3 questions; each question carries 1 to 2 probe follow-ups.`
}

// PlanRequest is the user turn for guide generation.
func PlanRequest(title, researchGoals string) string {
	return fmt.Sprintf("Design an interview guide for the study below.\n\nTitle: %s\n\nResearch goals:\n%s", title, researchGoals)
}

// SessionTranscript is one packaged session handed to analysis: the
// participant label plus the visible (stage-direction-free) messages.
type SessionTranscript struct {
	SessionID   string           `json:"session_id"`
	Participant string           `json:"participant"`
	Messages    []transcriptTurn `json:"messages"`
}

type transcriptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PackageTranscript strips stage directions and reduces a session's history
// to the shape analysis consumes.
func PackageTranscript(sess interview.Session, messages []interview.Message) SessionTranscript {
	participant := sess.ParticipantName
	if participant == "" {
		participant = "Anonymous participant"
	}

	visible := interview.VisibleMessages(messages)
	turns := make([]transcriptTurn, 0, len(visible))
	for _, m := range visible {
		turns = append(turns, transcriptTurn{Role: m.Role, Content: m.Content})
	}

	return SessionTranscript{SessionID: sess.ID, Participant: participant, Messages: turns}
}

// AnalysisInstruction is the fixed contract for batch thematic analysis.
func AnalysisInstruction() string {
	return `You are a qualitative research analyst. You will receive every completed interview transcript for one study. First analyze each transcript for themes, notable quotes, stated facts, and contradictions. Then analyze across transcripts for recurring themes with their frequency, points of agreement and disagreement, surprises, gaps the interviews did not cover, and recommendations. Respond with a single JSON object and nothing else:
{
  "themes": [
    {"theme": "...", "summary": "...", "supporting_quotes": [{"quote": "...", "context": "..."}]}
  ],
  "key_findings": ["..."],
  "gaps": ["..."],
  "recommendations": ["..."]
}`
}

// AnalysisRequest packages every transcript into the user turn for analysis.
func AnalysisRequest(study interview.Study, transcripts []SessionTranscript) (string, error) {
	payload, err := json.MarshalIndent(transcripts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcripts: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Study: %s\n\nResearch goals:\n%s\n\nTranscripts:\n", study.Title, study.ResearchGoals)
	b.Write(payload)
	return b.String(), nil
}
