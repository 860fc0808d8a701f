package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// StreamClient is a Client that can additionally deliver a completion as
// incremental text deltas. onDelta is invoked once per delta in order; the
// full accumulated reply is returned after the stream ends.
type StreamClient interface {
	Client
	Stream(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error)
}

func (c *openaiClient) Stream(ctx context.Context, messages []Message, onDelta func(delta string)) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("openai stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	return b.String(), nil
}

// StreamOrComplete streams when the client supports it and otherwise falls
// back to a one-shot completion delivered as a single delta.
func StreamOrComplete(ctx context.Context, client Client, messages []Message, onDelta func(delta string)) (string, error) {
	if sc, ok := client.(StreamClient); ok {
		return sc.Stream(ctx, messages, onDelta)
	}

	reply, err := client.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(reply)
	}
	return reply, nil
}
