// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"sync"
	"time"
)

// ClientErrorLimiter enforces the 10/min cap on POST /client-error: a simple
// fixed-window counter is enough here since the only goal is keeping a
// misbehaving client from flooding the log, not fair scheduling.
type ClientErrorLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int
}

// NewClientErrorLimiter returns a limiter allowing limit reports per window.
func NewClientErrorLimiter(limit int, window time.Duration) *ClientErrorLimiter {
	return &ClientErrorLimiter{limit: limit, window: window}
}

// Allow reports whether another report may be accepted right now, advancing
// the window and resetting the count when the current window has elapsed.
func (l *ClientErrorLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

type clientErrorReport struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
	Folder  string `json:"folder"`
	URL     string `json:"url"`
}

// ClientError handles POST /client-error: the mobile client's uncaught
// exceptions and unhandled promise rejections land here for server-side
// logging, rate-limited so a crash loop on the client can't spam the log.
func (d *Deps) ClientError(w http.ResponseWriter, r *http.Request) {
	if !d.ClientErrors.Allow(time.Now()) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "client-error reports limited to 10/min")
		return
	}

	var report clientErrorReport
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}

	d.Log.Warnf("client error: folder=%q url=%q message=%q stack=%q", report.Folder, report.URL, report.Message, report.Stack)
	w.WriteHeader(http.StatusOK)
}
