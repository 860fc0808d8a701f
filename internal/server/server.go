package server

import (
	"context"
	"log"
	"net/http"

	"github.com/avermeer/fieldwork/internal/voice"
)

// VoiceAgent runs a realtime vendor conversation, emitting turn events as
// they occur.
type VoiceAgent interface {
	Converse(ctx context.Context, cfg voice.ConversationConfig, onTurn func(voice.TurnEvent)) error
}

// Deps bundles the collaborators behind the HTTP surface. Hub, Renderer, and
// Voice may be nil; the corresponding routes degrade or report unavailable.
type Deps struct {
	Hub      *Hub
	Store    Store
	Planner  StudyPlanner
	Engine   SessionEngine
	Analyzer StudyAnalyzer
	Renderer SpeechRenderer

	Voice        VoiceAgent
	VoiceAgentID string
}

func Handler(deps Deps) http.Handler {
	mux := http.NewServeMux()

	if deps.Hub != nil {
		registerWSRoute(mux, deps.Hub)
	}
	registerAPIRoutes(mux, deps)
	registerParticipantRoutes(mux, deps)
	registerVoiceRoute(mux, deps)

	return mux
}

func Serve(addr string, deps Deps) error {
	log.Printf("fieldwork API at http://%s", addr)
	return http.ListenAndServe(addr, Handler(deps))
}
