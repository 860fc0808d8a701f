// Package voice talks to the realtime voice-agent vendor and reconciles the
// turns it observes into the transcript store exactly once.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avermeer/fieldwork/internal/stream"
)

// TurnEvent is one discrete (source, text) turn observed during a vendor
// conversation. Source is "ai" or "user" as reported by the vendor.
type TurnEvent struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ConversationConfig keys a vendor conversation: the agent to run, an
// optional prompt override, and the custom opening utterance.
type ConversationConfig struct {
	AgentID      string `json:"agent_id"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	FirstMessage string `json:"first_message,omitempty"`
}

type AgentClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAgentClient(baseURL, apiKey string) *AgentClient {
	return &AgentClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No overall timeout: conversations run for the length of an
		// interview. Cancellation comes from ctx.
		http: &http.Client{},
	}
}

type agentEvent struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Converse opens a conversation stream with the vendor and invokes onTurn
// for every turn event until the vendor signals the end of the conversation,
// the stream closes, or ctx is canceled.
func (c *AgentClient) Converse(ctx context.Context, cfg ConversationConfig, onTurn func(TurnEvent)) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode conversation config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/conversations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build conversation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("conversation request failed: status %d", resp.StatusCode)
	}

	chunker := stream.NewChunker()
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range chunker.Feed(buf[:n]) {
				var event agentEvent
				if err := json.Unmarshal([]byte(payload), &event); err != nil {
					continue
				}
				switch event.Type {
				case "conversation.turn":
					if onTurn != nil {
						onTurn(TurnEvent{Source: event.Source, Text: event.Text})
					}
				case "conversation.ended":
					return nil
				}
			}
		}
		if chunker.Done() {
			return nil
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read conversation stream: %w", readErr)
		}
	}
}

// Render hits the vendor's stateless text-to-speech endpoint and returns the
// audio bytes.
func (c *AgentClient) Render(ctx context.Context, text string) ([]byte, string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, "", fmt.Errorf("encode tts request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("render speech: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("tts request failed: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read tts response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}
