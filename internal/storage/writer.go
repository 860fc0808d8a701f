package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/avermeer/fieldwork/internal/interview"
)

// TranscriptWriter renders completed session transcripts to per-study
// markdown files, one file per study, for offsite backup.
type TranscriptWriter struct {
	dir string
	mu  sync.Mutex
}

func NewTranscriptWriter(dir string) *TranscriptWriter {
	return &TranscriptWriter{dir: dir}
}

// WriteStudy renders every session transcript for a study into a single
// markdown file, replacing any previous export. Stage directions are
// filtered; this is the human-facing transcript view.
func (w *TranscriptWriter) WriteStudy(study interview.Study, sessions []interview.Session, messagesBySession map[string][]interview.Message) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n", study.Title, study.ResearchGoals)

	for _, sess := range sessions {
		name := sess.ParticipantName
		if name == "" {
			name = "Anonymous participant"
		}
		fmt.Fprintf(&b, "\n## Session %s — %s\n\n", sess.ID, name)

		for _, msg := range interview.VisibleMessages(messagesBySession[sess.ID]) {
			speaker := "Participant"
			if msg.Role == interview.RoleAssistant {
				speaker = "Interviewer"
			}
			fmt.Fprintf(&b, "**[%s] %s:** %s\n\n", msg.CreatedAt.Format("15:04:05"), speaker, strings.TrimSpace(msg.Content))
		}
	}

	path := filepath.Join(w.dir, study.ID+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}
