// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/spm1001/gueridon/internal/pure"
)

// deliverPrompt writes prompt to the Worker's stdin, spawning it first if
// necessary. skipStateMessage is set when the caller already injected the
// equivalent user-message event into StateBuilder (the queued-prompt path
// does this at queue time, not at delivery time).
func (s *Session) deliverPrompt(prompt pure.QueuedPrompt, skipStateMessage bool) {
	if err := s.ensureWorker(); err != nil {
		s.log.Errorf("session %s: ensure worker: %v", s.id, err)
		s.hub.BroadcastStructural(s.folder, "delta", map[string]any{"type": "status", "status": "error"})
		return
	}
	s.stopGraceTimer()
	s.lastPromptAt = time.Now()

	if !skipStateMessage && prompt.Text != "" {
		s.builder.InjectUserMessage(prompt.Text, prompt.Synthetic)
		s.broadcastSnapshot()
	}

	if err := s.proc.WriteLine(marshalStdinUser(prompt)); err != nil {
		s.log.Errorf("session %s: write worker stdin: %v", s.id, err)
		s.hub.BroadcastStructural(s.folder, "delta", map[string]any{"type": "status", "status": "error"})
		return
	}
	s.turnInProgress = true
	s.turnStartedAt = time.Now()
	s.hadContentThisTurn = false
}

func (s *Session) onTurnComplete() {
	duration := time.Since(s.turnStartedAt)
	s.turnInProgress = false
	s.turnStartedAt = time.Time{}

	if !s.hadContentThisTurn {
		folder, id := s.folder, s.id
		s.enqueueJournalTailRecovery(folder, id)
	}

	s.broadcastSnapshot()

	metrics := s.builder.TurnMetrics()
	s.hub.BroadcastStructural(s.folder, "delta", map[string]any{
		"type":         "turn_complete",
		"durationMs":   duration.Milliseconds(),
		"inputTokens":  metrics.InputTokens,
		"outputTokens": metrics.OutputTokens,
		"toolCalls":    metrics.ToolCalls,
	})

	if s.hub.BoundCount(s.folder) == 0 && !s.pushedAskThisTurn {
		s.log.Infof("session %s: turn complete with no subscribers attached", s.id)
	}
	s.pushedAskThisTurn = false

	if len(s.promptQueue) > 0 {
		coalesced := pure.CoalescePrompts(s.promptQueue)
		s.promptQueue = nil
		s.deliverPrompt(coalesced, true)
		return
	}
	s.maybeStartGraceTimer()
}

// enqueueJournalTailRecovery reads the journal tail off the mailbox
// goroutine (it's a blocking file read) and posts the recovered events back
// in once done.
func (s *Session) enqueueJournalTailRecovery(folder, id string) {
	go func() {
		events, err := readJournalTail(folder, id)
		if err != nil {
			s.log.Debugf("session %s: journal tail recovery: %v", id, err)
			return
		}
		s.enqueue(func() {
			for _, ev := range events {
				if ev.Type != "user" {
					continue
				}
				if delta := s.builder.HandleReplayEvent(ev); delta != nil {
					s.broadcastDelta(*delta)
				}
			}
			if len(events) > 0 {
				s.broadcastSnapshot()
			}
		})
	}()
}

func (s *Session) flushPendingDeltas() {
	if len(s.pendingDeltas) == 0 {
		return
	}
	for key, text := range s.pendingDeltas {
		name := "content"
		if key.InnerKind == "thinking_delta" {
			name = "thinking_content"
		}
		s.hadContentThisTurn = true
		s.hub.BroadcastDelta(s.folder, "delta", map[string]any{
			"type":  name,
			"index": key.BlockIndex,
			"text":  text,
		})
	}
	s.pendingDeltas = make(map[pure.DeltaKey]string)
	s.stopFlushTimer()
}
