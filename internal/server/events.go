package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type StudyCreatedEvent struct {
	Event
	StudyID string `json:"study_id"`
	Title   string `json:"title"`
}

type SessionStartedEvent struct {
	Event
	StudyID   string `json:"study_id"`
	SessionID string `json:"session_id"`
}

type TurnAppendedEvent struct {
	Event
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

type SessionCompletedEvent struct {
	Event
	SessionID string `json:"session_id"`
}

type InsightsReadyEvent struct {
	Event
	StudyID string `json:"study_id"`
	Count   int    `json:"count"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
