package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/avermeer/fieldwork/internal/interview"
	"github.com/avermeer/fieldwork/internal/prompt"
	"github.com/avermeer/fieldwork/internal/voice"
)

type voiceFrame struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text,omitempty"`
	Saved  int    `json:"saved,omitempty"`
	Error  string `json:"error,omitempty"`
}

// registerVoiceRoute relays a vendor voice conversation to the participant's
// browser over a websocket, buffering every observed turn. The buffered
// transcript is flushed to the store exactly once: gracefully when the
// vendor signals the conversation's end, or best-effort when the socket
// drops mid-conversation.
func registerVoiceRoute(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /api/participant/sessions/{id}/voice", func(w http.ResponseWriter, r *http.Request) {
		if deps.Voice == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "voice conversations are not configured")
			return
		}

		sessionID := r.PathValue("id")
		view, err := deps.Engine.SessionView(r.Context(), sessionID, false)
		if err != nil {
			writeError(w, err)
			return
		}
		if view.Session.Status != interview.StatusActive {
			writeJSONError(w, http.StatusConflict, fmt.Sprintf("session %s is %s", sessionID, view.Session.Status))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("voice ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The browser never sends data frames; reads only detect the
		// close, which stands in for page unload.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		conv := voice.NewConversation(sessionID)
		cfg := voice.ConversationConfig{
			AgentID:      deps.VoiceAgentID,
			SystemPrompt: prompt.System(view.Study),
			FirstMessage: fmt.Sprintf("Hi! Thanks for joining this conversation about %s. Can you hear me alright?", view.Study.Title),
		}

		err = deps.Voice.Converse(ctx, cfg, func(ev voice.TurnEvent) {
			conv.Observe(ev)
			writeVoiceFrame(conn, voiceFrame{Type: "turn", Source: ev.Source, Text: ev.Text})
		})

		var saver voice.Saver = deps.Engine

		if err != nil {
			// Vendor stream or client connection failed; flush what we
			// have without confirmation to the participant.
			log.Printf("voice session %s conversation error: %v", sessionID, err)
			if flushErr := conv.Flush(context.WithoutCancel(ctx), saver, false); flushErr != nil {
				log.Printf("voice session %s best-effort save failed: %v", sessionID, flushErr)
			}
			return
		}

		if err := conv.Flush(context.WithoutCancel(ctx), saver, true); err != nil {
			log.Printf("voice session %s save failed: %v", sessionID, err)
			writeVoiceFrame(conn, voiceFrame{Type: "error", Error: "transcript save failed"})
			return
		}

		writeVoiceFrame(conn, voiceFrame{Type: "ended", Saved: len(conv.Turns())})
	})
}

func writeVoiceFrame(conn *websocket.Conn, frame voiceFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}
