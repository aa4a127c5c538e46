// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session supervises one folder's conversation: lazily spawning its
// Worker subprocess, routing stdout through the StateBuilder with
// delta-conflation and echo-filtering, running the three-timer lifecycle
// (flush/init/grace), and broadcasting to SSE subscribers via the Hub.
// Every Session owns a single mailbox goroutine so its own state is never
// touched from more than one goroutine at a time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/pure"
	"github.com/spm1001/gueridon/internal/sse"
	"github.com/spm1001/gueridon/internal/state"
	"github.com/spm1001/gueridon/internal/worker"
)

const (
	flushInterval    = 250 * time.Millisecond
	initTimeout      = 30 * time.Second
	killEscalateWait = 3 * time.Second
	idlePromptAge    = 10 * time.Minute
)

// mobileSystemPromptAppend tells the Worker it is being driven by a
// headless mobile/bridge client rather than an interactive terminal.
const mobileSystemPromptAppend = "You are being driven through a headless bridge by a mobile client with no terminal. " +
	"One specific tool may return an error by design when used outside a terminal session; this is expected."

// Session supervises exactly one folder's conversation.
type Session struct {
	id         string
	folder     string
	resumable  bool
	stateDir   string

	hub    *sse.Hub
	log    *logging.Logger
	onGone func(folder string) // registry callback, invoked once on teardown

	mailbox chan func()
	done    chan struct{}
	torn    bool

	builder *state.Builder

	proc       *worker.Process
	spawnedAt  time.Time
	lastOutput time.Time

	turnInProgress     bool
	hadContentThisTurn bool
	turnStartedAt      time.Time
	lastPromptAt       time.Time
	pushedAskThisTurn  bool
	wasInterrupted     bool
	autoResumeSent     bool

	promptQueue []pure.QueuedPrompt

	pendingDeltas map[pure.DeltaKey]string

	flushTimer *time.Timer
	initTimer  *time.Timer
	graceTimer *time.Timer
	graceFor   time.Duration

	stderrRing []string

	outriderNudge bool
	mcpConfigPath string
}

// Options configures a new Session.
type Options struct {
	ID            string
	Folder        string
	Resumable     bool
	StateDir      string
	Hub           *sse.Hub
	Log           *logging.Logger
	GraceDuration time.Duration
	OutriderNudge bool
	MCPConfigPath string
	OnGone        func(folder string)
}

// New constructs a Session. The Worker is not spawned until the first
// prompt is delivered.
func New(opts Options) *Session {
	s := &Session{
		id:            opts.ID,
		folder:        opts.Folder,
		resumable:     opts.Resumable,
		stateDir:      opts.StateDir,
		hub:           opts.Hub,
		log:           opts.Log,
		onGone:        opts.OnGone,
		mailbox:       make(chan func(), 64),
		done:          make(chan struct{}),
		builder:       state.New(opts.ID),
		pendingDeltas: make(map[pure.DeltaKey]string),
		graceFor:      opts.GraceDuration,
		outriderNudge: opts.OutriderNudge,
		mcpConfigPath: opts.MCPConfigPath,
	}
	go s.run()

	if opts.Resumable {
		s.wasInterrupted = true
		go s.replayThenAnnounce()
	}
	return s
}

// ID returns the Worker session id this Session was spawned (or resumed)
// with.
func (s *Session) ID() string { return s.id }

// Folder returns the folder this Session supervises.
func (s *Session) Folder() string { return s.folder }

// WorkerInfo reports the live Worker's pid and spawn time, for orphan-reaper
// persistence. ok is false when no Worker is currently running.
func (s *Session) WorkerInfo() (pid int, spawnedAt time.Time, ok bool) {
	s.do(func() {
		if s.proc == nil {
			return
		}
		pid = s.proc.Pid()
		spawnedAt = s.spawnedAt
		ok = true
	})
	return pid, spawnedAt, ok
}

// TurnInProgress reports whether a Worker turn is currently in flight, for
// building the shutdown context's activeTurnFolders list.
func (s *Session) TurnInProgress() bool {
	var in bool
	s.do(func() { in = s.turnInProgress })
	return in
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// do posts fn to the mailbox and blocks until it has run.
func (s *Session) do(fn func()) {
	reply := make(chan struct{})
	select {
	case s.mailbox <- func() { fn(); close(reply) }:
	case <-s.done:
		return
	}
	select {
	case <-reply:
	case <-s.done:
	}
}

// enqueue posts fn to the mailbox without waiting for it to run. Used by
// timer callbacks and background I/O completions.
func (s *Session) enqueue(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

func (s *Session) replayThenAnnounce() {
	events, err := readFullJournal(s.folder, s.id)
	if err != nil {
		s.log.Warnf("session %s: replay journal for %s: %v", s.id, s.folder, err)
		return
	}
	s.enqueue(func() {
		s.builder.SetReplaying(true)
		for _, ev := range events {
			s.builder.HandleReplayEvent(ev)
		}
		s.builder.SetReplaying(false)
		s.broadcastSnapshot()
	})
}

// Snapshot returns the current conversation snapshot.
func (s *Session) Snapshot() state.Snapshot {
	var snap state.Snapshot
	s.do(func() { snap = s.builder.Snapshot() })
	return snap
}

// AnnounceSubscriber delivers the one-shot auto-resume message on first
// subscriber attachment to a Session that was resumed after an interruption.
func (s *Session) AnnounceSubscriber(restartKind pure.RestartKind) {
	s.do(func() {
		if !s.wasInterrupted || s.autoResumeSent {
			return
		}
		s.autoResumeSent = true
		text := pure.AutoResumeMessage(restartKind)
		s.deliverPrompt(pure.QueuedPrompt{Text: text, Synthetic: true}, false)
	})
}

// Prompt delivers (or queues, if a turn is already in progress) a prompt.
// Returns whether it was delivered immediately and, if queued, its 1-based
// position in the queue.
func (s *Session) Prompt(qp pure.QueuedPrompt) (delivered bool, position int) {
	s.do(func() {
		if s.turnInProgress {
			s.promptQueue = append(s.promptQueue, qp)
			if qp.Text != "" {
				s.builder.InjectUserMessage(qp.Text, qp.Synthetic)
			}
			s.broadcastSnapshot()
			position = len(s.promptQueue)

			if s.outriderNudge && len(s.promptQueue) == 1 && s.proc != nil {
				nudge := pure.QueuedPrompt{Text: "[queued, will be sent after the current tool finishes] " + qp.Text}
				_ = s.proc.WriteLine(marshalStdinUser(nudge))
			}
			return
		}
		s.deliverPrompt(qp, false)
		delivered = true
	})
	return delivered, position
}

// Abort kills the Worker immediately, without tearing down the Session.
func (s *Session) Abort() {
	s.do(func() {
		if s.proc == nil {
			return
		}
		s.killWorkerWithEscalation()
	})
}

// Exit writes the deliberate-close exit marker, kills the Worker, broadcasts
// a terminal state, and removes the Session from its registry.
func (s *Session) Exit() {
	s.do(func() {
		if err := writeExitMarker(s.stateDir, s.folder, s.id); err != nil {
			s.log.Warnf("session %s: write exit marker: %v", s.id, err)
		}
		s.teardown("exit")
	})
}

// Teardown is called by the registry when a Session is superseded or at
// shutdown (grace expiry tears down from its own timer); it does not write
// an exit marker (the conversation remains resumable).
func (s *Session) Teardown(reason string) {
	s.do(func() { s.teardown(reason) })
}

func (s *Session) teardown(reason string) {
	if s.torn {
		return
	}
	s.torn = true
	s.stopAllTimers()
	if s.proc != nil {
		s.killWorkerWithEscalation()
	}
	s.hub.BroadcastStructural(s.folder, "state", map[string]any{"status": "closed", "reason": reason})
	s.hub.DetachFolder(s.folder)
	if s.onGone != nil {
		s.onGone(s.folder)
	}
	close(s.done)
}

// --- Worker lifecycle ---

func (s *Session) ensureWorker() error {
	if s.proc != nil {
		return nil
	}

	opts := worker.ArgsOptions{SystemPrompt: mobileSystemPromptAppend, MCPConfigPath: s.mcpConfigPath}
	if s.resumable {
		opts.ResumeSessionID = s.id
	} else {
		opts.FreshSessionID = s.id
	}
	args := worker.BuildArgs(opts)

	proc, lines, exitCh, err := worker.Spawn(context.Background(), s.folder, args, worker.InheritedEnv())
	if err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}
	s.proc = proc
	s.spawnedAt = time.Now()
	s.resumable = true

	s.armInitTimer()

	go s.pumpLines(lines)
	go s.watchExit(exitCh)
	return nil
}

func (s *Session) pumpLines(lines <-chan worker.Line) {
	for line := range lines {
		l := line
		s.enqueue(func() { s.handleLine(l) })
	}
}

func (s *Session) watchExit(exitCh <-chan error) {
	err := <-exitCh
	s.enqueue(func() { s.handleWorkerExit(err) })
}

func (s *Session) handleWorkerExit(err error) {
	s.proc = nil
	s.stopFlushTimer()
	s.stopInitTimer()
	wasInTurn := s.turnInProgress
	s.turnInProgress = false
	s.promptQueue = nil

	status := "exited"
	if err != nil {
		status = "error"
	}
	s.hub.BroadcastStructural(s.folder, "delta", map[string]any{"type": "status", "status": status})
	if wasInTurn {
		s.hub.BroadcastStructural(s.folder, "delta", map[string]any{"type": "api_error", "message": "worker process exited mid-turn"})
	}
	s.maybeStartGraceTimer()
}

func (s *Session) killWorkerWithEscalation() {
	proc := s.proc
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	time.AfterFunc(killEscalateWait, func() {
		if proc.Signal(syscall.Signal(0)) == nil {
			_ = proc.Kill()
		}
	})
}

// --- stdout line handling ---

type lineEnvelope struct {
	Type              string          `json:"type"`
	Subtype           string          `json:"subtype"`
	IsAPIErrorMessage bool            `json:"isApiErrorMessage"`
	Event             json.RawMessage `json:"event"`
}

type innerEnvelope struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Delta *deltaEnvelope `json:"delta"`
}

type deltaEnvelope struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	Thinking    string `json:"thinking"`
}

func (s *Session) handleLine(line worker.Line) {
	if line.Stderr {
		s.appendStderr(line.Text)
		return
	}
	raw := []byte(line.Text)

	var env lineEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Debugf("session %s: non-json worker output: %q", s.id, line.Text)
		return
	}
	s.lastOutput = time.Now()

	if env.Type == "system" && env.Subtype == "init" {
		s.stopInitTimer()
	}

	if env.Type == "stream_event" {
		var inner innerEnvelope
		if json.Unmarshal(env.Event, &inner) == nil && inner.Type == "content_block_delta" && inner.Delta != nil {
			innerKind := inner.Delta.Type
			if pure.IsConflatableDelta("content_block_delta", innerKind) {
				s.builder.HandleEvent(json.RawMessage(raw))
				if field := pure.DeltaPayloadField(innerKind); field == "text" || field == "thinking" {
					payload := inner.Delta.Text
					if field == "thinking" {
						payload = inner.Delta.Thinking
					}
					key := pure.DeltaKey{BlockIndex: inner.Index, InnerKind: innerKind}
					s.pendingDeltas[key] += payload
					s.armFlushTimer()
				}
				return
			}
		}
	}

	s.flushPendingDeltas()

	delta := s.builder.HandleEvent(json.RawMessage(raw))
	if delta != nil {
		s.broadcastDelta(*delta)
		switch delta.Type {
		case "content", "thinking_content", "tool_start", "ask_user":
			s.hadContentThisTurn = true
		}
		if delta.Type == "ask_user" {
			s.maybeEnqueueAskUserPush()
		}
	}

	if env.Type == "result" {
		s.onTurnComplete()
	}
	if env.IsAPIErrorMessage {
		s.onTurnComplete()
	}
}

// maybeEnqueueAskUserPush enqueues a push notification when no SSE
// subscriber is currently bound to this folder, so a backgrounded client
// still learns the Worker is waiting on it. Push delivery is an external
// collaborator (out of core); this only marks the boundary crossed, which
// onTurnComplete checks to avoid also firing a turn-complete push for the
// same turn.
func (s *Session) maybeEnqueueAskUserPush() {
	if s.hub.BoundCount(s.folder) != 0 {
		return
	}
	s.log.Infof("session %s: ask_user with no subscribers, enqueuing push notification", s.id)
	s.pushedAskThisTurn = true
}

func (s *Session) appendStderr(text string) {
	const ringSize = 20
	s.stderrRing = append(s.stderrRing, text)
	if len(s.stderrRing) > ringSize {
		s.stderrRing = s.stderrRing[len(s.stderrRing)-ringSize:]
	}
}

// broadcastDelta routes a builder-produced delta: these never originate
// from the conflation buffer, so they always deliver (status, api_error,
// ask_user, tool_complete, tool_start, message_start, activity).
func (s *Session) broadcastDelta(d state.Delta) {
	payload := mergeDeltaType(d.Type, d.Payload)
	s.hub.BroadcastStructural(s.folder, "delta", payload)
}

func (s *Session) broadcastSnapshot() {
	snap := s.builder.Snapshot()
	s.hub.BroadcastStructural(s.folder, "state", snap)
}

func mergeDeltaType(deltaType string, payload any) map[string]any {
	data, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{"type": deltaType}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		m = map[string]any{"value": payload}
	}
	m["type"] = deltaType
	return m
}

func marshalStdinUser(prompt pure.QueuedPrompt) []byte {
	return promptContent(prompt)
}

// promptContent builds the {"type":"user","message":{"role":"user",
// "content":...}} envelope the Worker's stdin protocol expects: a plain
// string when there's no attached content, or a content array (text first)
// when a prompt carries images/files alongside its text.
func promptContent(prompt pure.QueuedPrompt) json.RawMessage {
	var content any = prompt.Text
	if len(prompt.Content) > 0 {
		items := make([]any, 0, len(prompt.Content)+1)
		if prompt.Text != "" {
			items = append(items, map[string]any{"type": "text", "text": prompt.Text})
		}
		for _, c := range prompt.Content {
			items = append(items, c.Raw)
		}
		content = items
	}
	data, _ := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	})
	return data
}
