// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// armFlushTimer starts the delta-conflation flush timer if it isn't already
// running. The callback posts back into the mailbox rather than touching
// Session state directly; comparing the fired timer against the Session's
// current flushTimer field makes a late firing (one that raced a Stop())
// a safe no-op.
func (s *Session) armFlushTimer() {
	if s.flushTimer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(flushInterval, func() {
		s.enqueue(func() {
			if s.flushTimer != t {
				return
			}
			s.flushTimer = nil
			s.flushPendingDeltas()
		})
	})
	s.flushTimer = t
}

func (s *Session) stopFlushTimer() {
	if s.flushTimer == nil {
		return
	}
	s.flushTimer.Stop()
	s.flushTimer = nil
}

func (s *Session) armInitTimer() {
	s.stopInitTimer()
	var t *time.Timer
	t = time.AfterFunc(initTimeout, func() {
		s.enqueue(func() {
			if s.initTimer != t {
				return
			}
			s.initTimer = nil
			s.log.Warnf("session %s: worker did not emit system/init within %s, killing", s.id, initTimeout)
			s.killWorkerWithEscalation()
			s.hub.BroadcastStructural(s.folder, "delta", map[string]any{"type": "status", "status": "error"})
		})
	})
	s.initTimer = t
}

func (s *Session) stopInitTimer() {
	if s.initTimer == nil {
		return
	}
	s.initTimer.Stop()
	s.initTimer = nil
}

// maybeStartGraceTimer arms the idle-teardown timer iff no subscribers are
// bound, the Worker is alive, no turn is in progress, and the last prompt
// (if any) is old enough that this isn't simply a lull between messages.
func (s *Session) maybeStartGraceTimer() {
	if s.graceTimer != nil {
		return
	}
	if s.proc == nil || s.turnInProgress {
		return
	}
	if s.hub.BoundCount(s.folder) > 0 {
		return
	}
	if !s.lastPromptAt.IsZero() && time.Since(s.lastPromptAt) < idlePromptAge {
		return
	}

	grace := s.graceFor
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		s.enqueue(func() {
			if s.graceTimer != t {
				return
			}
			s.graceTimer = nil
			s.teardown("grace-expired")
		})
	})
	s.graceTimer = t
}

func (s *Session) stopGraceTimer() {
	if s.graceTimer == nil {
		return
	}
	s.graceTimer.Stop()
	s.graceTimer = nil
}

func (s *Session) stopAllTimers() {
	s.stopFlushTimer()
	s.stopInitTimer()
	s.stopGraceTimer()
}
