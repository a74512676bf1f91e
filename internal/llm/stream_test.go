package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeStream_SingleBlock(t *testing.T) {
	frames, rest := ConsumeStream(nil, []byte("event: message.delta\ndata: {\"content\":\"hi\"}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "message.delta", frames[0].Event)
	assert.Equal(t, map[string]any{"content": "hi"}, frames[0].Data)
	assert.Empty(t, rest)
}

func TestConsumeStream_DefaultsEventName(t *testing.T) {
	frames, _ := ConsumeStream(nil, []byte("data: {\"a\":1}\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "message", frames[0].Event)
}

func TestConsumeStream_SplitMidBlock(t *testing.T) {
	frames, rest := ConsumeStream(nil, []byte("event: chat.end\ndata: {\"res"))
	assert.Empty(t, frames)
	assert.NotEmpty(t, rest)

	frames, rest = ConsumeStream(rest, []byte("ult\":{}}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "chat.end", frames[0].Event)
	assert.Equal(t, map[string]any{"result": map[string]any{}}, frames[0].Data)
	assert.Empty(t, rest)
}

func TestConsumeStream_MultipleBlocksAndCRLF(t *testing.T) {
	raw := "event: message.delta\r\ndata: {\"content\":\"a\"}\r\n\r\n" +
		"event: message.delta\ndata: {\"content\":\"b\"}\n\n"

	frames, rest := ConsumeStream(nil, []byte(raw))

	require.Len(t, frames, 2)
	assert.Equal(t, map[string]any{"content": "a"}, frames[0].Data)
	assert.Equal(t, map[string]any{"content": "b"}, frames[1].Data)
	assert.Empty(t, rest)
}

func TestConsumeStream_MultipleDataLinesJoined(t *testing.T) {
	frames, _ := ConsumeStream(nil, []byte("event: note\ndata: first\ndata: second\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "first\nsecond", frames[0].Data)
}

func TestConsumeStream_NonJSONDataKeptRaw(t *testing.T) {
	frames, _ := ConsumeStream(nil, []byte("event: status\ndata: warming up\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "warming up", frames[0].Data)
}

func TestConsumeStream_BlockWithoutDataYieldsNothing(t *testing.T) {
	frames, rest := ConsumeStream(nil, []byte("event: ping\n\n"))

	assert.Empty(t, frames)
	assert.Empty(t, rest)
}

func TestFlushStream_TrailingBlockWithoutSeparator(t *testing.T) {
	frames, rest := ConsumeStream(nil, []byte("event: chat.end\ndata: {\"result\":{\"response_id\":\"r1\"}}"))
	assert.Empty(t, frames)

	flushed := FlushStream(rest)
	require.Len(t, flushed, 1)
	assert.Equal(t, "chat.end", flushed[0].Event)
}
