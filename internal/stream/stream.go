// Package stream parses server-sent-event style byte streams into complete
// logical chunks, independent of how the bytes arrive.
package stream

import (
	"bytes"
	"strings"
)

// DoneMarker is the explicit end-of-stream payload.
const DoneMarker = "[DONE]"

// Chunker accumulates arbitrary byte slices and yields complete
// "data: ..."-framed payloads. It owns its partial-line buffer, so frames
// split mid-token across network reads reassemble correctly.
type Chunker struct {
	buf  bytes.Buffer
	done bool
}

func NewChunker() *Chunker {
	return &Chunker{}
}

// Feed appends raw bytes and returns every payload completed by them, in
// order. After the done marker is seen, further input yields nothing.
func (c *Chunker) Feed(data []byte) []string {
	if c.done {
		return nil
	}
	c.buf.Write(data)

	var payloads []string
	for {
		raw := c.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}

		line := strings.TrimRight(string(raw[:idx]), "\r")
		c.buf.Next(idx + 1)

		payload, ok := parseLine(line)
		if !ok {
			continue
		}
		if payload == DoneMarker {
			c.done = true
			break
		}
		payloads = append(payloads, payload)
	}

	return payloads
}

// Done reports whether the end-of-stream marker has been seen.
func (c *Chunker) Done() bool {
	return c.done
}

// Rest returns any buffered partial line, for diagnostics after a stream
// ends without the done marker.
func (c *Chunker) Rest() string {
	return c.buf.String()
}

func parseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}

	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(payload), true
}
