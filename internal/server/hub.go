package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub fans structured events out to connected dashboard clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastStudyCreated(studyID, title string) {
	h.broadcastEvent(StudyCreatedEvent{
		Event:   newEvent("study_created", time.Now().UTC()),
		StudyID: studyID,
		Title:   title,
	})
}

func (h *Hub) BroadcastSessionStarted(studyID, sessionID string) {
	h.broadcastEvent(SessionStartedEvent{
		Event:     newEvent("session_started", time.Now().UTC()),
		StudyID:   studyID,
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastTurnAppended(sessionID, role string) {
	h.broadcastEvent(TurnAppendedEvent{
		Event:     newEvent("turn_appended", time.Now().UTC()),
		SessionID: sessionID,
		Role:      role,
	})
}

func (h *Hub) BroadcastSessionCompleted(sessionID string) {
	h.broadcastEvent(SessionCompletedEvent{
		Event:     newEvent("session_completed", time.Now().UTC()),
		SessionID: sessionID,
	})
}

func (h *Hub) BroadcastInsightsReady(studyID string, count int) {
	h.broadcastEvent(InsightsReadyEvent{
		Event:   newEvent("insights_ready", time.Now().UTC()),
		StudyID: studyID,
		Count:   count,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
