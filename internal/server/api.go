package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/avermeer/fieldwork/internal/analyzer"
	"github.com/avermeer/fieldwork/internal/engine"
	apperrors "github.com/avermeer/fieldwork/internal/errors"
	"github.com/avermeer/fieldwork/internal/interview"
)

// Store is the read side the API composes study overviews from.
type Store interface {
	ListStudies() ([]interview.Study, error)
	GetStudy(id string) (interview.Study, error)
	ListSessionsByStudy(studyID string) ([]interview.Session, error)
	GetInsights(studyID string) ([]interview.Insight, error)
}

type StudyPlanner interface {
	CreateStudy(ctx context.Context, title, researchGoals, systemPrompt string) (interview.Study, error)
}

type SessionEngine interface {
	CreateSession(ctx context.Context, studyID, participantName string) (interview.Session, string, error)
	PostTurn(ctx context.Context, sessionID, text string, onDelta func(delta string)) (string, error)
	EndSession(ctx context.Context, sessionID string) (string, error)
	SaveVoiceTranscript(ctx context.Context, sessionID string, turns []interview.Turn) ([]interview.Message, error)
	SessionView(ctx context.Context, sessionID string, includeAll bool) (engine.View, error)
}

type StudyAnalyzer interface {
	Analyze(ctx context.Context, studyID string) (analyzer.Result, error)
}

type SpeechRenderer interface {
	Render(ctx context.Context, text string) ([]byte, string, error)
}

type createStudyRequest struct {
	Title         string `json:"title"`
	ResearchGoals string `json:"research_goals"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
}

type createSessionRequest struct {
	ParticipantName string `json:"participant_name,omitempty"`
}

type postTurnRequest struct {
	Content string `json:"content"`
}

type patchSessionRequest struct {
	Status string `json:"status"`
}

type voiceTranscriptRequest struct {
	Turns []interview.Turn `json:"turns"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

func registerAPIRoutes(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("POST /api/studies", func(w http.ResponseWriter, r *http.Request) {
		var req createStudyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		study, err := deps.Planner.CreateStudy(r.Context(), req.Title, req.ResearchGoals, req.SystemPrompt)
		if err != nil {
			writeError(w, err)
			return
		}

		if deps.Hub != nil {
			deps.Hub.BroadcastStudyCreated(study.ID, study.Title)
		}
		writeJSON(w, http.StatusCreated, study)
	})

	mux.HandleFunc("GET /api/studies", func(w http.ResponseWriter, r *http.Request) {
		studies, err := deps.Store.ListStudies()
		if err != nil {
			writeError(w, err)
			return
		}

		overviews := make([]map[string]any, 0, len(studies))
		for _, study := range studies {
			sessions, err := deps.Store.ListSessionsByStudy(study.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			overviews = append(overviews, map[string]any{
				"study":    study,
				"sessions": sessions,
			})
		}

		writeJSON(w, http.StatusOK, overviews)
	})

	mux.HandleFunc("GET /api/studies/{id}", func(w http.ResponseWriter, r *http.Request) {
		studyID := r.PathValue("id")
		study, err := deps.Store.GetStudy(studyID)
		if err != nil {
			writeError(w, notFoundOr(err, "study", studyID))
			return
		}

		sessions, err := deps.Store.ListSessionsByStudy(studyID)
		if err != nil {
			writeError(w, err)
			return
		}
		insights, err := deps.Store.GetInsights(studyID)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"study":    study,
			"sessions": sessions,
			"insights": insights,
		})
	})

	mux.HandleFunc("POST /api/studies/{id}/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		sess, opening, err := deps.Engine.CreateSession(r.Context(), r.PathValue("id"), req.ParticipantName)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"session":         sess,
			"opening_message": opening,
		})
	})

	mux.HandleFunc("GET /api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		includeAll := r.URL.Query().Get("all") == "true"
		view, err := deps.Engine.SessionView(r.Context(), r.PathValue("id"), includeAll)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":  view.Session,
			"messages": view.Messages,
		})
	})

	mux.HandleFunc("POST /api/sessions/{id}/messages", streamTurnHandler(deps.Engine))

	mux.HandleFunc("PATCH /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req patchSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Status != interview.StatusCompleted {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported status %q", req.Status))
			return
		}

		closing, err := deps.Engine.EndSession(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":          interview.StatusCompleted,
			"closing_message": closing,
		})
	})

	mux.HandleFunc("POST /api/studies/{id}/analyze", func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Analyzer.Analyze(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func registerParticipantRoutes(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /api/participant/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		view, err := deps.Engine.SessionView(r.Context(), r.PathValue("id"), false)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":         view.Session,
			"study_title":     view.Study.Title,
			"interview_guide": view.Study.Guide,
			"system_prompt":   view.Study.SystemPrompt,
			"status":          view.Session.Status,
			"messages":        view.Messages,
		})
	})

	mux.HandleFunc("POST /api/participant/sessions/{id}/messages", streamTurnHandler(deps.Engine))

	mux.HandleFunc("POST /api/participant/sessions/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		closing, err := deps.Engine.EndSession(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":          interview.StatusCompleted,
			"closing_message": closing,
		})
	})

	// Accepts both normal fetches and navigator.sendBeacon posts fired at
	// page unload, which never read the response.
	mux.HandleFunc("POST /api/participant/sessions/{id}/voice-transcript", func(w http.ResponseWriter, r *http.Request) {
		var req voiceTranscriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		messages, err := deps.Engine.SaveVoiceTranscript(r.Context(), r.PathValue("id"), req.Turns)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"saved":  len(messages),
			"status": interview.StatusCompleted,
		})
	})

	mux.HandleFunc("POST /api/tts", func(w http.ResponseWriter, r *http.Request) {
		if deps.Renderer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "voice rendering is not configured")
			return
		}

		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}

		audio, contentType, err := deps.Renderer.Render(r.Context(), req.Text)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("render speech: %v", err))
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio)
	})
}

// streamTurnHandler delivers the interviewer's reply as an incremental
// plain-text chunk stream. The durable write happens in the engine after the
// model stream drains, so a client that stops reading still gets its turn
// recorded.
func streamTurnHandler(eng SessionEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req postTurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		flusher, _ := w.(http.Flusher)
		started := false
		clientGone := false

		_, err := eng.PostTurn(r.Context(), r.PathValue("id"), req.Content, func(delta string) {
			if clientGone {
				return
			}
			if !started {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Cache-Control", "no-cache")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if _, werr := w.Write([]byte(delta)); werr != nil {
				clientGone = true
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		})
		if err != nil {
			if !started {
				writeError(w, err)
				return
			}
			log.Printf("post turn for session %s failed mid-stream: %v", r.PathValue("id"), err)
		}
	}
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound(kind, id)
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	status := apperrors.StatusOf(err)
	if status >= 500 {
		log.Printf("internal error: %v", err)
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
