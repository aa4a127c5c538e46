// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/pure"
	"github.com/spm1001/gueridon/internal/sse"
	"github.com/spm1001/gueridon/internal/worker"
)

func newTestSession(t *testing.T, hub *sse.Hub) *Session {
	t.Helper()
	log, err := logging.New(logging.LevelError, io.Discard, "")
	require.NoError(t, err)
	s := New(Options{
		ID:       "sess-1",
		Folder:   "/tmp/project",
		StateDir: t.TempDir(),
		Hub:      hub,
		Log:      log,
	})
	return s
}

type sseFrame struct {
	Name    string
	Payload map[string]any
}

// recordFrames starts an SSE connection for sub, runs trigger (which should
// cause zero or more broadcasts), then closes the connection and returns
// every frame delivered after the initial hello.
func recordFrames(t *testing.T, sub *sse.Subscriber, trigger func()) []sseFrame {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- sse.Serve(rec, req, sub, "1", nil) }()
	time.Sleep(20 * time.Millisecond) // let hello land before trigger runs

	trigger()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var frames []sseFrame
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var cur sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur = sseFrame{Name: strings.TrimPrefix(line, "event: ")}
		case strings.HasPrefix(line, "data: "):
			var payload map[string]any
			_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload)
			cur.Payload = payload
		case line == "":
			if cur.Name != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	var withoutHello []sseFrame
	for _, f := range frames {
		if f.Name != "hello" {
			withoutHello = append(withoutHello, f)
		}
	}
	return withoutHello
}

func TestSession_DeltaConflation_FlushesOnContentBlockStop(t *testing.T) {
	hub := sse.NewHub()
	defer hub.Stop()
	sub := hub.Register("client-1")
	hub.BindFolder(sub, "/tmp/project")

	s := newTestSession(t, hub)

	messageStart := `{"type":"stream_event","event":{"type":"message_start","message":{"id":"m1","role":"assistant","usage":{"input_tokens":10}}}}`
	blockStart := `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"text"}}}`
	delta1 := `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello "}}}`
	delta2 := `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}}`
	blockStop := `{"type":"stream_event","event":{"type":"content_block_stop","index":0}}`

	frames := recordFrames(t, sub, func() {
		s.do(func() {
			s.handleLine(worker.Line{Text: messageStart})
			s.handleLine(worker.Line{Text: blockStart})
			s.handleLine(worker.Line{Text: delta1})
			s.handleLine(worker.Line{Text: delta2})
			s.handleLine(worker.Line{Text: blockStop})
		})
	})

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "delta", last.Name)
	assert.Equal(t, "content", last.Payload["type"])
	assert.Equal(t, "Hello world", last.Payload["text"])
}

func TestSession_AskUserWithNoSubscribers_MarksPushedAskThisTurn(t *testing.T) {
	hub := sse.NewHub()
	defer hub.Stop()

	s := newTestSession(t, hub)

	messageStart := `{"type":"stream_event","event":{"type":"message_start","message":{"id":"m1","role":"assistant","usage":{"input_tokens":10}}}}`
	blockStart := `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"AskUserQuestion"}}}`
	delta := `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"questions\":[]}"}}}`
	blockStop := `{"type":"stream_event","event":{"type":"content_block_stop","index":0}}`

	s.do(func() {
		s.handleLine(worker.Line{Text: messageStart})
		s.handleLine(worker.Line{Text: blockStart})
		s.handleLine(worker.Line{Text: delta})
		s.handleLine(worker.Line{Text: blockStop})
	})

	assert.True(t, s.pushedAskThisTurn)
}

func TestSession_Prompt_QueuesWhenTurnInProgress(t *testing.T) {
	hub := sse.NewHub()
	defer hub.Stop()
	sub := hub.Register("client-1")
	hub.BindFolder(sub, "/tmp/project")

	s := newTestSession(t, hub)
	s.do(func() { s.turnInProgress = true })

	var delivered bool
	var position int
	frames := recordFrames(t, sub, func() {
		delivered, position = s.Prompt(pure.QueuedPrompt{Text: "second message"})
	})

	assert.False(t, delivered)
	assert.Equal(t, 1, position)
	require.NotEmpty(t, frames)
	assert.Equal(t, "state", frames[0].Name)

	s.do(func() {
		assert.Len(t, s.promptQueue, 1)
		assert.Equal(t, "second message", s.promptQueue[0].Text)
	})
}

func TestSession_Prompt_SpawnFailureBroadcastsErrorStatus(t *testing.T) {
	hub := sse.NewHub()
	defer hub.Stop()
	sub := hub.Register("client-1")
	hub.BindFolder(sub, "/tmp/project")

	oldBinary := worker.Binary
	worker.Binary = "this-binary-does-not-exist-anywhere"
	defer func() { worker.Binary = oldBinary }()

	s := newTestSession(t, hub)

	var delivered bool
	frames := recordFrames(t, sub, func() {
		delivered, _ = s.Prompt(pure.QueuedPrompt{Text: "hi"})
	})

	// Prompt() only distinguishes queued-vs-not; the spawn failure surfaces
	// asynchronously as an error status delta, not as a false return value.
	assert.True(t, delivered)

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "delta", last.Name)
	assert.Equal(t, "status", last.Payload["type"])
	assert.Equal(t, "error", last.Payload["status"])

	s.do(func() {
		assert.False(t, s.turnInProgress)
		assert.Nil(t, s.proc)
	})
}

func TestSession_Teardown_IsIdempotent(t *testing.T) {
	hub := sse.NewHub()
	defer hub.Stop()
	sub := hub.Register("client-1")
	hub.BindFolder(sub, "/tmp/project")

	var goneCalls int
	log, err := logging.New(logging.LevelError, io.Discard, "")
	require.NoError(t, err)
	s := New(Options{
		ID:       "sess-1",
		Folder:   "/tmp/project",
		StateDir: t.TempDir(),
		Hub:      hub,
		Log:      log,
		OnGone:   func(string) { goneCalls++ },
	})

	frames := recordFrames(t, sub, func() {
		s.Teardown("idle")
		s.Teardown("idle") // second call must be a no-op
	})

	assert.Equal(t, 1, goneCalls)
	require.Len(t, frames, 1, "second teardown must not broadcast again")
	assert.Equal(t, "state", frames[0].Name)
	assert.Equal(t, "closed", frames[0].Payload["status"])
}

func TestPromptContent_PlainText(t *testing.T) {
	raw := promptContent(pure.QueuedPrompt{Text: "hello"})
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "user", env["type"])
	msg := env["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])
}

func TestPromptContent_WithAttachments(t *testing.T) {
	raw := promptContent(pure.QueuedPrompt{
		Text:    "caption",
		Content: []pure.ContentItem{{Raw: json.RawMessage(`{"type":"image","source":{"type":"base64"}}`)}},
	})
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	msg := env["message"].(map[string]any)
	items, ok := msg["content"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "caption", first["text"])
}
