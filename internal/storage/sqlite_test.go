package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avermeer/fieldwork/internal/interview"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fieldwork.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedStudy(t *testing.T, store *SQLiteStore) interview.Study {
	t.Helper()
	study := interview.Study{
		ID:            NewID(),
		Title:         "Pilot",
		ResearchGoals: "Understand onboarding friction",
		Guide: interview.Guide{
			Sections:         []interview.GuideSection{{Title: "Background", Purpose: "warm up", Questions: []interview.GuideQuestion{{Question: "What is your role?", Probes: []string{"How long?"}}}}},
			EstimatedMinutes: 30,
			OpeningContext:   "Casual chat about onboarding",
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateStudy(study))
	return study
}

func seedSession(t *testing.T, store *SQLiteStore, studyID string) interview.Session {
	t.Helper()
	sess := interview.Session{
		ID:        NewID(),
		StudyID:   studyID,
		Status:    interview.StatusActive,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateSession(sess))
	return sess
}

func TestStudyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)

	got, err := store.GetStudy(study.ID)
	require.NoError(t, err)
	assert.Equal(t, study.Title, got.Title)
	assert.Equal(t, study.ResearchGoals, got.ResearchGoals)
	require.True(t, got.Guide.IsStructured())
	assert.Len(t, got.Guide.Sections, 1)
	assert.Equal(t, 30, got.Guide.EstimatedMinutes)

	studies, err := store.ListStudies()
	require.NoError(t, err)
	assert.Len(t, studies, 1)
}

func TestStudyRawGuideRoundTrip(t *testing.T) {
	store := newTestStore(t)
	study := interview.Study{
		ID:            NewID(),
		Title:         "Raw",
		ResearchGoals: "goals",
		Guide:         interview.Guide{Raw: "the model said something unparseable"},
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateStudy(study))

	got, err := store.GetStudy(study.ID)
	require.NoError(t, err)
	assert.False(t, got.Guide.IsStructured())
	assert.Equal(t, study.Guide.Raw, got.Guide.Raw)
}

func TestGetStudyMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetStudy("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSessionReferentialIntegrity(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateSession(interview.Session{ID: NewID(), StudyID: "missing-study", StartedAt: time.Now()})
	require.Error(t, err)

	sessions, err := store.ListSessionsByStudy("missing-study")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestMessageReferentialIntegrity(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendMessage(interview.Message{ID: NewID(), SessionID: "missing-session", Role: interview.RoleUser, Content: "hi", CreatedAt: time.Now()})
	require.Error(t, err)

	messages, err := store.GetMessages("missing-session")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCompleteSessionMonotonic(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)
	sess := seedSession(t, store, study.ID)

	require.NoError(t, store.CompleteSession(sess.ID, time.Now().UTC()))

	got, err := store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// A second transition attempt must not re-open or re-stamp.
	err = store.CompleteSession(sess.ID, time.Now().UTC())
	require.ErrorIs(t, err, ErrNotActive)

	again, err := store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, interview.StatusCompleted, again.Status)
	assert.Equal(t, got.CompletedAt.UnixNano(), again.CompletedAt.UnixNano())
}

func TestCompleteSessionMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.CompleteSession("missing", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestAppendTurnsOrdering(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)
	sess := seedSession(t, store, study.ID)

	base := time.Now().UTC()
	turns := []interview.Turn{
		{Role: interview.RoleAssistant, Content: "Hi"},
		{Role: interview.RoleUser, Content: "Hello"},
		{Role: interview.RoleAssistant, Content: "How was onboarding?"},
	}
	saved, err := store.AppendTurns(sess.ID, turns, base)
	require.NoError(t, err)
	require.Len(t, saved, 3)

	for i := 1; i < len(saved); i++ {
		assert.True(t, saved[i].CreatedAt.After(saved[i-1].CreatedAt), "timestamps must strictly increase")
	}

	got, err := store.GetMessages(sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Hi", got[0].Content)
	assert.Equal(t, "Hello", got[1].Content)
	assert.Equal(t, "How was onboarding?", got[2].Content)
}

func TestGetMessagesStableOrdering(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)
	sess := seedSession(t, store, study.ID)

	base := time.Now().UTC()
	for i, content := range []string{"a", "b", "c"} {
		require.NoError(t, store.AppendMessage(interview.Message{
			ID:        NewID(),
			SessionID: sess.ID,
			Role:      interview.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	first, err := store.GetMessages(sess.ID)
	require.NoError(t, err)
	second, err := store.GetMessages(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "two reads with no writes must agree")

	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].CreatedAt.Before(first[i-1].CreatedAt))
	}
}

func TestCompletedSessionsFilter(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)
	active := seedSession(t, store, study.ID)
	done := seedSession(t, store, study.ID)
	require.NoError(t, store.CompleteSession(done.ID, time.Now().UTC()))

	completed, err := store.CompletedSessions(study.ID)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)
	assert.NotEqual(t, active.ID, completed[0].ID)
}

func TestInsightsAccumulate(t *testing.T) {
	store := newTestStore(t)
	study := seedStudy(t, store)

	first, err := store.InsertInsights(study.ID, []interview.Insight{
		{Theme: "Docs gaps", Summary: "Participants could not find setup docs.", Quotes: []interview.Quote{{Quote: "I searched for an hour", Context: "setup"}}},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.InsertInsights(study.ID, []interview.Insight{
		{Theme: "Docs gaps", Summary: "Still a theme on the second run."},
		{Theme: "Tooling", Summary: "CLI confusion."},
	})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.NotNil(t, second[1].Quotes, "quotes default to an empty list")

	all, err := store.GetInsights(study.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3, "analysis runs append, never replace")
}
