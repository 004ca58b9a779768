// ABOUTME: Tests for the SSE chat decoder: chunk independence, activity handling, termination.
// ABOUTME: Feeds synthetic byte streams through fake readers; no network involved.

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-host/internal/chat"
)

// chunkReader yields the configured chunks one Read at a time, then EOF.
type chunkReader struct {
	chunks [][]byte
	pos    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.pos])
	r.pos++
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

// errAfterReader yields one chunk then a transport error.
type errAfterReader struct {
	chunk []byte
	err   error
	sent  bool
}

func (r *errAfterReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.chunk), nil
	}
	return 0, r.err
}

func (r *errAfterReader) Close() error { return nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeAll(t *testing.T, ctx context.Context, body io.ReadCloser) []Event {
	t.Helper()
	var events []Event
	NewDecoder(quietLogger()).Decode(ctx, body, func(e Event) {
		events = append(events, e)
	})
	return events
}

func finishEvent(t *testing.T, events []Event) Event {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, KindFinish, last.Kind, "stream must end with a Finish event")
	return last
}

const progressiveStream = `data: {"type":"Message","message":{"id":"srv-1","role":"assistant","created":1111,"content":[{"type":"text","text":"Hel"}]}}
data: {"type":"Message","message":{"id":"srv-1","role":"assistant","created":1112,"content":[{"type":"text","text":"Hello, world"}]}}
data: [DONE]
`

func TestDecode_ProgressiveFrames_LatestWins(t *testing.T) {
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(progressiveStream)}})

	fin := finishEvent(t, events)
	require.NotNil(t, fin.Message)
	assert.Equal(t, FinishComplete, fin.Reason)
	assert.Equal(t, "Hello, world", fin.Message.Text())
	assert.Equal(t, chat.RoleAssistant, fin.Message.Role)
}

func TestDecode_ChunkBoundaryIndependence(t *testing.T) {
	// Splitting the same bytes at every possible boundary must produce the
	// same final reconstruction.
	raw := []byte(progressiveStream)

	for split := 1; split < len(raw); split++ {
		events := decodeAll(t, context.Background(), &chunkReader{
			chunks: [][]byte{raw[:split], raw[split:]},
		})
		fin := finishEvent(t, events)
		require.NotNil(t, fin.Message, "split at %d lost the message", split)
		assert.Equal(t, "Hello, world", fin.Message.Text(), "split at %d", split)
	}
}

func TestDecode_StableMessageIDAcrossUpdates(t *testing.T) {
	raw := []byte(progressiveStream)
	events := decodeAll(t, context.Background(), &chunkReader{
		// One frame per chunk so multiple updates are emitted.
		chunks: [][]byte{raw[:len(raw)/2], raw[len(raw)/2:]},
	})

	var ids []string
	for _, e := range events {
		if e.Kind == KindMessage || (e.Kind == KindFinish && e.Message != nil) {
			ids = append(ids, e.Message.ID)
		}
	}
	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "message id must stay fixed for the whole response")
		assert.NotEqual(t, "srv-1", id, "decoder assigns its own id, not the server's")
	}
}

func TestDecode_ThinkingSurfacesAsActivityNotTimeline(t *testing.T) {
	stream := `data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"thinking","text":"planning the answer"}]}}
data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"text","text":"Done thinking."}]}}
`
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	var activities []string
	var messages []*chat.Message
	for _, e := range events {
		switch e.Kind {
		case KindActivity:
			activities = append(activities, e.Activity)
		case KindMessage:
			messages = append(messages, e.Message)
		}
	}

	// Thinking text never lands in a message update.
	for _, m := range messages {
		assert.NotContains(t, m.Text(), "planning")
	}

	fin := finishEvent(t, events)
	require.NotNil(t, fin.Message)
	assert.Equal(t, "Done thinking.", fin.Message.Text())
}

func TestDecode_ThinkingOnlyChunkEmitsActivity(t *testing.T) {
	stream := `data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"thinking","text":"still planning"}]}}
`
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	var sawActivity bool
	for _, e := range events {
		if e.Kind == KindActivity && strings.Contains(e.Activity, "still planning") {
			sawActivity = true
		}
		if e.Kind == KindMessage {
			assert.NotContains(t, e.Message.Text(), "still planning")
		}
	}
	assert.True(t, sawActivity, "thinking frame should surface as activity")
}

func TestDecode_ToolRequestActivityIncludesNameAndArgs(t *testing.T) {
	stream := `data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"toolRequest","toolId":"t1","name":"shell","arguments":{"command":"ls -la"},"status":"running"}]}}
`
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	var activity string
	for _, e := range events {
		if e.Kind == KindActivity && e.Activity != "" {
			activity = e.Activity
		}
	}
	assert.Contains(t, activity, "shell")
	assert.Contains(t, activity, "ls -la")
}

func TestDecode_MalformedFrameSkipped(t *testing.T) {
	stream := `data: {this is not json
data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"text","text":"survived"}]}}
`
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	fin := finishEvent(t, events)
	require.NotNil(t, fin.Message)
	assert.Equal(t, "survived", fin.Message.Text())
}

func TestDecode_RawFallbackWhenNothingParses(t *testing.T) {
	// A body that never parses as SSE frames still surfaces as reply text.
	stream := "plain text from a confused server\n"
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	fin := finishEvent(t, events)
	require.NotNil(t, fin.Message)
	assert.Contains(t, fin.Message.Text(), "plain text from a confused server")
}

func TestDecode_WireErrorFrameIsTerminal(t *testing.T) {
	stream := `data: {"type":"Error","error":"provider quota exhausted"}
`
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(stream)}})

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, KindError, last.Kind)
	assert.Contains(t, last.Err.Error(), "provider quota exhausted")
}

func TestDecode_TransportErrorEmitsError(t *testing.T) {
	body := &errAfterReader{
		chunk: []byte(`data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"text","text":"partial"}]}}` + "\n"),
		err:   errors.New("connection reset by peer"),
	}
	events := decodeAll(t, context.Background(), body)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, KindError, last.Kind)
	assert.Contains(t, last.Err.Error(), "connection reset")
}

func TestDecode_CancellationEmitsSingleFinishStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Simulates an aborted transport: one chunk arrives, then the cancelled
	// connection fails the next read.
	body := &errAfterReader{
		chunk: []byte(`data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"text","text":"partial answer"}]}}` + "\n"),
		err:   context.Canceled,
	}
	cancel()

	events := decodeAll(t, ctx, body)

	var finishes []Event
	for i, e := range events {
		if e.Kind == KindFinish {
			finishes = append(finishes, e)
			assert.Equal(t, len(events)-1, i, "no events may follow Finish")
		}
	}
	require.Len(t, finishes, 1)
	assert.Equal(t, FinishStopped, finishes[0].Reason)
	require.NotNil(t, finishes[0].Message)
	assert.Equal(t, "partial answer", finishes[0].Message.Text())
}

func TestDecode_WireFinishFrameEndsStream(t *testing.T) {
	stream := `data: {"type":"Message","message":{"id":"s","role":"assistant","content":[{"type":"text","text":"answer"}]}}
data: {"type":"Finish","reason":"complete"}
`
	// No EOF needed: the Finish frame itself terminates the decode.
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte(stream))
		// Keep the pipe open; the decoder must not wait for EOF.
	}()

	done := make(chan []Event, 1)
	go func() {
		done <- decodeAll(t, context.Background(), pr)
	}()

	select {
	case events := <-done:
		fin := finishEvent(t, events)
		assert.Equal(t, "answer", fin.Message.Text())
		pw.Close()
	case <-time.After(10 * time.Second):
		t.Fatal("decoder waited for EOF despite a Finish frame")
	}
}

func TestDecode_TimestampIsLocallyStamped(t *testing.T) {
	events := decodeAll(t, context.Background(), &chunkReader{chunks: [][]byte{[]byte(progressiveStream)}})

	fin := finishEvent(t, events)
	require.NotNil(t, fin.Message)
	// The wire said created=1112; the decoder stamps receive time instead.
	assert.NotEqual(t, int64(1112), fin.Message.Created)
	assert.Greater(t, fin.Message.Created, int64(1_000_000_000))
}
