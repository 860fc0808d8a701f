package storage

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/avermeer/fieldwork/internal/interview"
)

// ErrNotActive is returned by CompleteSession when the session exists but is
// already in a terminal state.
var ErrNotActive = errors.New("session is not active")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "fieldwork.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS studies (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			research_goals TEXT NOT NULL,
			interview_guide TEXT,
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create studies table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			participant_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			started_at TEXT NOT NULL,
			completed_at TEXT,
			FOREIGN KEY(study_id) REFERENCES studies(id)
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);
	`); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS insights (
			id TEXT PRIMARY KEY,
			study_id TEXT NOT NULL,
			theme TEXT NOT NULL,
			summary TEXT NOT NULL,
			supporting_quotes TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			FOREIGN KEY(study_id) REFERENCES studies(id)
		);
	`); err != nil {
		return fmt.Errorf("create insights table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_study_id ON sessions(study_id, started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, created_at)"); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_insights_study_id ON insights(study_id, created_at)"); err != nil {
		return fmt.Errorf("create insights index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// NewID returns a lexicographically sortable opaque id.
func NewID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func (s *SQLiteStore) CreateStudy(study interview.Study) error {
	if strings.TrimSpace(study.ID) == "" {
		return errors.New("study id is required")
	}

	guideJSON, err := marshalGuide(study.Guide)
	if err != nil {
		return fmt.Errorf("encode interview guide: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO studies(id, title, research_goals, interview_guide, system_prompt, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		study.ID,
		study.Title,
		study.ResearchGoals,
		guideJSON,
		study.SystemPrompt,
		study.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create study %s: %w", study.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetStudy(id string) (interview.Study, error) {
	row := s.db.QueryRow(
		`SELECT id, title, research_goals, interview_guide, system_prompt, created_at
		 FROM studies WHERE id = ?`,
		id,
	)

	study, err := scanStudy(row.Scan)
	if err != nil {
		return interview.Study{}, fmt.Errorf("query study %s: %w", id, err)
	}
	return study, nil
}

func (s *SQLiteStore) ListStudies() ([]interview.Study, error) {
	rows, err := s.db.Query(
		`SELECT id, title, research_goals, interview_guide, system_prompt, created_at
		 FROM studies ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	studies := make([]interview.Study, 0, 16)
	for rows.Next() {
		study, err := scanStudy(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		studies = append(studies, study)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate study rows: %w", err)
	}

	return studies, nil
}

func (s *SQLiteStore) CreateSession(sess interview.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, study_id, participant_name, status, started_at)
		 VALUES(?, ?, ?, ?, ?)`,
		sess.ID,
		sess.StudyID,
		sess.ParticipantName,
		interview.StatusActive,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(id string) (interview.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, study_id, participant_name, status, started_at, completed_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row.Scan)
	if err != nil {
		return interview.Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessionsByStudy(studyID string) ([]interview.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, participant_name, status, started_at, completed_at
		 FROM sessions WHERE study_id = ? ORDER BY started_at ASC`,
		studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions for study %s: %w", studyID, err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

func (s *SQLiteStore) CompletedSessions(studyID string) ([]interview.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, participant_name, status, started_at, completed_at
		 FROM sessions WHERE study_id = ? AND status = ? ORDER BY started_at ASC`,
		studyID,
		interview.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed sessions for study %s: %w", studyID, err)
	}
	defer func() { _ = rows.Close() }()

	return collectSessions(rows)
}

// CompleteSession transitions a session to completed. The transition is
// monotonic: a session that is already terminal stays terminal and the call
// reports ErrNotActive.
func (s *SQLiteStore) CompleteSession(id string, completedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		interview.StatusCompleted,
		completedAt.UTC().Format(time.RFC3339Nano),
		id,
		interview.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete session rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetSession(id); err != nil {
			return err
		}
		return ErrNotActive
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(msg interview.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages(id, session_id, role, content, created_at) VALUES(?, ?, ?, ?, ?)`,
		msg.ID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append message for session %s: %w", msg.SessionID, err)
	}
	return nil
}

// AppendTurns inserts a batch of turns in one transaction, assigning
// synthetic strictly-increasing timestamps starting at base so the intended
// conversational order survives even when wall-clock resolution is coarser
// than the insertion gap.
func (s *SQLiteStore) AppendTurns(sessionID string, turns []interview.Turn, base time.Time) ([]interview.Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin append turns: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	messages := make([]interview.Message, 0, len(turns))
	for i, turn := range turns {
		msg := interview.Message{
			ID:        NewID(),
			SessionID: sessionID,
			Role:      turn.Role,
			Content:   turn.Content,
			CreatedAt: base.UTC().Add(time.Duration(i) * time.Millisecond),
		}
		_, err := tx.Exec(
			`INSERT INTO messages(id, session_id, role, content, created_at) VALUES(?, ?, ?, ?, ?)`,
			msg.ID,
			msg.SessionID,
			msg.Role,
			msg.Content,
			msg.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("append turn %d for session %s: %w", i, sessionID, err)
		}
		messages = append(messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append turns: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) GetMessages(sessionID string) ([]interview.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]interview.Message, 0, 32)
	for rows.Next() {
		var msg interview.Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message for session %s: %w", sessionID, err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse message created_at for session %s: %w", sessionID, err)
		}
		msg.CreatedAt = parsed

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows for session %s: %w", sessionID, err)
	}

	return messages, nil
}

// InsertInsights appends one batch of insights for a study. Prior runs'
// insights are never touched.
func (s *SQLiteStore) InsertInsights(studyID string, insights []interview.Insight) ([]interview.Insight, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin insert insights: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	saved := make([]interview.Insight, 0, len(insights))
	for i, insight := range insights {
		insight.ID = NewID()
		insight.StudyID = studyID
		insight.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		if insight.Quotes == nil {
			insight.Quotes = []interview.Quote{}
		}

		quotesJSON, err := json.Marshal(insight.Quotes)
		if err != nil {
			return nil, fmt.Errorf("encode quotes for insight %d: %w", i, err)
		}

		_, err = tx.Exec(
			`INSERT INTO insights(id, study_id, theme, summary, supporting_quotes, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			insight.ID,
			insight.StudyID,
			insight.Theme,
			insight.Summary,
			string(quotesJSON),
			insight.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("insert insight for study %s: %w", studyID, err)
		}
		saved = append(saved, insight)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert insights: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStore) GetInsights(studyID string) ([]interview.Insight, error) {
	rows, err := s.db.Query(
		`SELECT id, study_id, theme, summary, supporting_quotes, created_at
		 FROM insights WHERE study_id = ? ORDER BY created_at ASC`,
		studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query insights for study %s: %w", studyID, err)
	}
	defer func() { _ = rows.Close() }()

	insights := make([]interview.Insight, 0, 8)
	for rows.Next() {
		var insight interview.Insight
		var quotesJSON, createdAt string
		if err := rows.Scan(&insight.ID, &insight.StudyID, &insight.Theme, &insight.Summary, &quotesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan insight for study %s: %w", studyID, err)
		}

		if err := json.Unmarshal([]byte(quotesJSON), &insight.Quotes); err != nil {
			return nil, fmt.Errorf("decode quotes for insight %s: %w", insight.ID, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse insight created_at: %w", err)
		}
		insight.CreatedAt = parsed

		insights = append(insights, insight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insight rows for study %s: %w", studyID, err)
	}

	return insights, nil
}

func marshalGuide(guide interview.Guide) (sql.NullString, error) {
	if guide.IsZero() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(guide)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanStudy(scan func(dest ...any) error) (interview.Study, error) {
	var study interview.Study
	var guideJSON sql.NullString
	var createdAt string
	if err := scan(&study.ID, &study.Title, &study.ResearchGoals, &guideJSON, &study.SystemPrompt, &createdAt); err != nil {
		return interview.Study{}, err
	}

	if guideJSON.Valid && guideJSON.String != "" {
		if err := json.Unmarshal([]byte(guideJSON.String), &study.Guide); err != nil {
			return interview.Study{}, fmt.Errorf("decode interview guide: %w", err)
		}
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return interview.Study{}, fmt.Errorf("parse study created_at: %w", err)
	}
	study.CreatedAt = parsed

	return study, nil
}

func scanSession(scan func(dest ...any) error) (interview.Session, error) {
	var sess interview.Session
	var startedAt string
	var completedAt sql.NullString
	if err := scan(&sess.ID, &sess.StudyID, &sess.ParticipantName, &sess.Status, &startedAt, &completedAt); err != nil {
		return interview.Session{}, err
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return interview.Session{}, fmt.Errorf("parse session started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if completedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return interview.Session{}, fmt.Errorf("parse session completed_at: %w", err)
		}
		sess.CompletedAt = &parsedEnd
	}

	return sess, nil
}

func collectSessions(rows *sql.Rows) ([]interview.Session, error) {
	sessions := make([]interview.Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}
