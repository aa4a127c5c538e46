// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sse implements the server-sent-events hub that fans conversation
// state out to subscribed browser/mobile clients: one long-lived HTTP
// response per subscriber, framed as id/event/data lines, with a
// back-pressure policy that only ever sheds delta-conflation flushes.
package sse

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	pingInterval = 30 * time.Second

	// subscriberBuffer sized generously enough that a structural frame
	// rarely has to wait on a slow client; delta frames share the same
	// buffer and are skipped, not queued, once it is full.
	subscriberBuffer = 64

	// structuralSendTimeout bounds how long BroadcastStructural blocks on a
	// saturated subscriber before giving up on that one delivery; the next
	// full-state snapshot recovers whatever it missed.
	structuralSendTimeout = 2 * time.Second
)

// Frame is one SSE event, ready to be written to a subscriber.
type Frame struct {
	Seq     uint64
	Name    string
	Payload any
}

// Subscriber is one open SSE connection.
type Subscriber struct {
	ClientID  string
	Folder    string // "" means lobby (no folder selected yet)
	PushToken string

	seq  uint64
	ch   chan Frame
	done chan struct{}
	hub  *Hub
}

// BoundTo reports whether this subscriber is currently attached to folder.
func (s *Subscriber) BoundTo(folder string) bool { return s.Folder == folder }

// Hub tracks all live SSE subscribers and fans frames out to them.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber

	stopPing chan struct{}
	pingOnce sync.Once
}

// NewHub constructs an empty Hub and starts its keep-alive ping loop.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		stopPing:    make(chan struct{}),
	}
	go h.pingLoop()
	return h
}

// Stop halts the keep-alive ping loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.pingOnce.Do(func() { close(h.stopPing) })
}

func (h *Hub) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopPing:
			return
		case <-ticker.C:
			h.broadcastAll(Frame{Name: "ping", Payload: map[string]any{}}, false)
		}
	}
}

// Register creates a subscriber bound to no folder (lobby state) and
// returns it. The reconnect flag (a non-empty Last-Event-ID header) is
// read from the request by Serve, not here.
func (h *Hub) Register(clientID string) *Subscriber {
	sub := &Subscriber{
		ClientID:  clientID,
		PushToken: newPushToken(),
		ch:        make(chan Frame, subscriberBuffer),
		done:      make(chan struct{}),
		hub:       h,
	}
	h.mu.Lock()
	h.subscribers[clientID] = sub
	h.mu.Unlock()
	return sub
}

// Lookup returns the subscriber registered under clientID, if any.
func (h *Hub) Lookup(clientID string) (*Subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[clientID]
	return sub, ok
}

// Unregister removes a subscriber and signals any in-flight broadcaster
// waiting on it to stop. sub.ch is never closed, since a blocking
// BroadcastStructural send could otherwise race a close and panic; done is
// the sole shutdown signal.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub.ClientID]
	delete(h.subscribers, sub.ClientID)
	h.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// BindFolder attaches a subscriber to a folder (or "" to return it to the
// lobby). Called when a client selects a conversation.
func (h *Hub) BindFolder(sub *Subscriber, folder string) {
	h.mu.Lock()
	sub.Folder = folder
	h.mu.Unlock()
}

// BoundCount reports how many subscribers are currently bound to folder.
func (h *Hub) BoundCount(folder string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, sub := range h.subscribers {
		if sub.Folder == folder {
			n++
		}
	}
	return n
}

// DetachFolder returns every subscriber currently bound to folder to the
// lobby state; used on Session teardown.
func (h *Hub) DetachFolder(folder string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		if sub.Folder == folder {
			sub.Folder = ""
		}
	}
}

// BroadcastStructural delivers a structural frame (state, status, api_error,
// ask_user, tool_complete, folders, ...) to every subscriber bound to
// folder. Structural frames always deliver: send blocks briefly on a full
// subscriber buffer rather than silently dropping state.
func (h *Hub) BroadcastStructural(folder, name string, payload any) {
	h.broadcastToFolder(folder, name, payload, false)
}

// BroadcastDelta delivers a delta-conflation flush to every subscriber bound
// to folder, skipping (never blocking) a subscriber whose buffer is
// currently saturated; that subscriber picks the state back up at the next
// flush or full-state snapshot.
func (h *Hub) BroadcastDelta(folder, name string, payload any) {
	h.broadcastToFolder(folder, name, payload, true)
}

// BroadcastLobby delivers a frame (e.g. folders) to every subscriber
// regardless of folder binding.
func (h *Hub) BroadcastLobby(name string, payload any) {
	h.broadcastAll(Frame{Name: name, Payload: payload}, false)
}

func (h *Hub) broadcastToFolder(folder, name string, payload any, skipIfSaturated bool) {
	merged := withFolder(folder, payload)
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.Folder == folder {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		deliver(sub, Frame{Name: name, Payload: merged}, skipIfSaturated)
	}
}

func (h *Hub) broadcastAll(frame Frame, skipIfSaturated bool) {
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		deliver(sub, frame, skipIfSaturated)
	}
}

func deliver(sub *Subscriber, frame Frame, skipIfSaturated bool) {
	frame.Seq = atomic.AddUint64(&sub.seq, 1)
	if skipIfSaturated {
		select {
		case sub.ch <- frame:
		case <-sub.done:
		default:
			// Saturated: this subscriber misses this flush and picks the
			// state back up at the next flush or full snapshot.
		}
		return
	}
	select {
	case sub.ch <- frame:
	case <-sub.done:
	case <-time.After(structuralSendTimeout):
		// Wedged connection: give up on this one delivery rather than
		// block the broadcaster indefinitely. The next full-state
		// snapshot recovers whatever it missed.
	}
}

func withFolder(folder string, payload any) any {
	data, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{"folder": folder}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		// Payload wasn't a JSON object (e.g. a bare string); wrap it.
		return map[string]any{"folder": folder, "value": payload}
	}
	m["folder"] = folder
	return m
}

func newPushToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Serve writes SSE headers, the hello frame, then the caller-supplied
// initial frames (typically a folders snapshot), then drains the
// subscriber's channel until the request context is cancelled or a write
// fails. It blocks for the lifetime of the connection.
func Serve(w http.ResponseWriter, r *http.Request, sub *Subscriber, protocolVersion string, initial []Frame) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	reconnect := r.Header.Get("Last-Event-ID") != ""
	hello := Frame{Name: "hello", Payload: map[string]any{
		"version":   protocolVersion,
		"clientId":  sub.ClientID,
		"reconnect": reconnect,
		"pushToken": sub.PushToken,
	}}
	if err := writeFrame(w, nextSeq(sub), hello); err != nil {
		return err
	}
	flusher.Flush()

	for _, f := range initial {
		if err := writeFrame(w, nextSeq(sub), f); err != nil {
			return err
		}
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.done:
			return nil
		case frame := <-sub.ch:
			if err := writeFrame(w, frame.Seq, frame); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func nextSeq(sub *Subscriber) uint64 {
	return atomic.AddUint64(&sub.seq, 1)
}

func writeFrame(w http.ResponseWriter, seq uint64, f Frame) error {
	data, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, f.Name, data)
	return err
}
