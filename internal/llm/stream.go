// Package llm provides the client for the external chat-completion backend,
// including the incremental wire-protocol frame parser and best-effort
// extraction of structured JSON from free-form model output.
package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Frame is one event+data unit decoded from the backend's streaming protocol.
// Data holds parsed JSON (map, slice, or primitive) when the payload is valid
// JSON, otherwise the raw string.
type Frame struct {
	Event string
	Data  any
}

// DefaultFrameEvent is used when a block carries no event: line.
const DefaultFrameEvent = "message"

// blockSeparator splits the stream into blocks on blank lines.
var blockSeparator = regexp.MustCompile(`\r?\n\r?\n`)

// ConsumeStream appends chunk to the carry-over buffer and decodes every
// complete block. Bytes may arrive split mid-block, so the undecoded tail is
// returned as the new carry-over buffer. The function is pure: it never
// retains references to its inputs.
func ConsumeStream(buffer, chunk []byte) ([]Frame, []byte) {
	data := make([]byte, 0, len(buffer)+len(chunk))
	data = append(data, buffer...)
	data = append(data, chunk...)

	var frames []Frame
	for {
		loc := blockSeparator.FindIndex(data)
		if loc == nil {
			break
		}
		block := data[:loc[0]]
		data = data[loc[1]:]
		if frame, ok := parseBlock(string(block)); ok {
			frames = append(frames, frame)
		}
	}
	return frames, data
}

// FlushStream decodes whatever remains in the buffer at end of stream.
// Backends are not required to terminate the final block with a blank line.
func FlushStream(buffer []byte) []Frame {
	var frames []Frame
	for _, block := range blockSeparator.Split(string(buffer), -1) {
		if frame, ok := parseBlock(block); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// parseBlock decodes a single protocol block. A line beginning "event:"
// names the block's event; one or more "data:" lines are joined with
// newlines and parsed as JSON if possible. A block with no data lines
// yields no frame.
func parseBlock(block string) (Frame, bool) {
	event := ""
	var dataLines []string

	block = strings.ReplaceAll(block, "\r\n", "\n")
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if len(dataLines) == 0 {
		return Frame{}, false
	}
	if event == "" {
		event = DefaultFrameEvent
	}

	raw := strings.Join(dataLines, "\n")
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Frame{Event: event, Data: raw}, true
	}
	return Frame{Event: event, Data: parsed}, true
}
