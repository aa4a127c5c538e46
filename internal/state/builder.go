// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package state implements the deterministic, side-effect-free state
// machine that turns a sequence of Worker events (live or replayed from the
// journal) into the client-facing conversation snapshot plus an incremental
// delta per event.
package state

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spm1001/gueridon/internal/pure"
)

// localCommandNames are the slash commands the client handles itself rather
// than sending to the Worker.
var localCommandNames = map[string]bool{
	"context": true,
	"cost":    true,
	"compact": true,
	"help":    true,
	"clear":   true,
}

// ToolCall is one tool invocation within an assistant message.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Status string          `json:"status"` // "running" | "completed" | "error"
}

// Message is one turn in the reconstructed conversation.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Synthetic bool       `json:"synthetic,omitempty"`
}

// SlashCommand describes a command the Worker accepts (or the client
// handles locally without round-tripping to the Worker).
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Local       bool   `json:"local"`
}

// Snapshot is the full client-facing conversation state.
type Snapshot struct {
	SessionID     string         `json:"sessionId"`
	Model         string         `json:"model,omitempty"`
	Project       string         `json:"project,omitempty"`
	ContextPct    float64        `json:"contextPct"`
	Status        string         `json:"status"` // "working" | "idle" | "error"
	Messages      []Message      `json:"messages"`
	SlashCommands []SlashCommand `json:"slashCommands,omitempty"`
}

// Delta is one incremental update to broadcast to subscribers; Type
// identifies its shape (status, activity, content, thinking_content,
// tool_start, tool_complete, ask_user, message_start, api_error).
type Delta struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// TurnMetrics summarizes one completed turn.
type TurnMetrics struct {
	InputTokens  int
	OutputTokens int
	ToolCalls    int
}

type blockScratch struct {
	kind       string
	text       strings.Builder
	partial    strings.Builder
	toolName   string
	toolID     string
	suppressed bool // AskUserQuestion tool_use block
}

// Builder is a per-Session, single-writer state machine. It is not
// goroutine-safe; callers (the Session mailbox) must serialize access.
type Builder struct {
	snapshot Snapshot

	seenMessageIDs   map[string]bool
	outputTokensByID map[string]int
	toolCallsThisTurn int
	lastInputTokens  int
	contextWindow    int

	blocks          map[int]*blockScratch
	lastCommittedID string // message id of the most recently committed assistant message this turn

	replaying bool
}

// New constructs an empty Builder for a fresh conversation.
func New(sessionID string) *Builder {
	return &Builder{
		snapshot:         Snapshot{SessionID: sessionID, Status: "idle"},
		seenMessageIDs:   make(map[string]bool),
		outputTokensByID: make(map[string]int),
		blocks:           make(map[int]*blockScratch),
	}
}

// Snapshot returns a copy of the current conversation state.
func (b *Builder) Snapshot() Snapshot {
	cp := b.snapshot
	cp.Messages = append([]Message(nil), b.snapshot.Messages...)
	cp.SlashCommands = append([]SlashCommand(nil), b.snapshot.SlashCommands...)
	return cp
}

// InjectUserMessage appends a user message the bridge itself is producing —
// a just-sent prompt shown immediately, or a synthetic auto-resume notice —
// directly to the snapshot. Unlike handleUser, it never runs the
// Worker-echo filter: that filter exists to drop the Worker's own stdout
// replay of what the bridge just wrote to its stdin, and does not apply to
// a message that never came from the Worker in the first place.
func (b *Builder) InjectUserMessage(text string, synthetic bool) {
	b.snapshot.Messages = append(b.snapshot.Messages, Message{Role: "user", Content: text, Synthetic: synthetic})
}

// SetReplaying toggles replay mode: while true, an assistant-message commit
// clears streaming scratch itself (normally message_start does this; a
// replayed journal sequence never contains a message_start).
func (b *Builder) SetReplaying(v bool) { b.replaying = v }

// TurnMetrics returns the accumulated metrics for the turn just ended.
func (b *Builder) TurnMetrics() TurnMetrics {
	var out int
	for _, v := range b.outputTokensByID {
		out += v
	}
	return TurnMetrics{InputTokens: b.lastInputTokens, OutputTokens: out, ToolCalls: b.toolCallsThisTurn}
}

// wireEvent is the generic envelope for a live Worker stdout line.
type wireEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Message   json.RawMessage `json:"message"`
	Event     json.RawMessage `json:"event"`
	Index     int             `json:"index"`

	IsAPIErrorMessage bool `json:"isApiErrorMessage"`

	SlashCommands []wireSlashCommand        `json:"slash_commands"`
	ModelUsage    map[string]wireModelUsage `json:"modelUsage"`
}

type wireSlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wireModelUsage struct {
	ContextWindow int `json:"contextWindow"`
}

type wireMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *wireUsage      `json:"usage"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type wireContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

type wireInnerEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Message      *wireMessage      `json:"message"`
	ContentBlock *wireContentBlock `json:"content_block"`
	Delta        *wireDelta        `json:"delta"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	Thinking    string `json:"thinking"`
}

type wireToolResultContent struct {
	Type      string          `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type wireAskUserQuestion struct {
	Questions []json.RawMessage `json:"questions"`
}

// HandleEvent consumes one raw live Worker stdout line and returns the
// delta to broadcast, or nil if this event produces none (e.g. a
// content_block_delta, which is accumulated by the caller for conflation
// rather than emitted directly by the builder).
func (b *Builder) HandleEvent(raw json.RawMessage) *Delta {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	return b.dispatch(ev)
}

func (b *Builder) dispatch(ev wireEvent) *Delta {
	switch ev.Type {
	case "system":
		return b.handleSystemInit(ev)
	case "stream_event":
		return b.handleStreamEvent(ev)
	case "assistant":
		return b.handleAssistantComplete(ev)
	case "user":
		return b.handleUser(ev)
	case "result":
		return b.handleResult(ev)
	default:
		return nil
	}
}

func (b *Builder) handleSystemInit(ev wireEvent) *Delta {
	if ev.Subtype != "init" {
		return nil
	}
	b.toolCallsThisTurn = 0
	b.outputTokensByID = make(map[string]int)
	if ev.Model != "" {
		b.snapshot.Model = ev.Model
	}
	if ev.SessionID != "" {
		b.snapshot.SessionID = ev.SessionID
	}

	cmds := make([]SlashCommand, 0, len(ev.SlashCommands))
	for _, c := range ev.SlashCommands {
		cmds = append(cmds, SlashCommand{Name: c.Name, Description: c.Description, Local: localCommandNames[c.Name]})
	}
	b.snapshot.SlashCommands = cmds
	b.snapshot.Status = "working"
	return &Delta{Type: "status", Payload: b.snapshot.Status}
}

func (b *Builder) handleStreamEvent(ev wireEvent) *Delta {
	var inner wireInnerEvent
	if err := json.Unmarshal(ev.Event, &inner); err != nil {
		return nil
	}

	switch inner.Type {
	case "message_start":
		b.blocks = make(map[int]*blockScratch)
		if inner.Message != nil && inner.Message.Usage != nil {
			b.recordInputTokens(inner.Message.Usage)
		}
		return &Delta{Type: "message_start", Payload: nil}

	case "content_block_start":
		if _, exists := b.blocks[inner.Index]; exists {
			// Worker reused a block index for an inner API call within the
			// same turn; reset scratch for this index but keep per-turn
			// counters and the dedup set intact.
			delete(b.blocks, inner.Index)
		}
		bs := &blockScratch{}
		if inner.ContentBlock != nil {
			bs.kind = inner.ContentBlock.Type
			bs.toolID = inner.ContentBlock.ID
			bs.toolName = inner.ContentBlock.Name
			if bs.kind == "tool_use" && bs.toolName == "AskUserQuestion" {
				bs.suppressed = true
			}
		}
		b.blocks[inner.Index] = bs
		if bs.suppressed {
			return nil
		}
		activity := "writing"
		switch bs.kind {
		case "tool_use":
			activity = "tool"
		case "thinking":
			activity = "thinking"
		}
		return &Delta{Type: "activity", Payload: activity}

	case "content_block_delta":
		bs := b.blocks[inner.Index]
		if bs == nil || inner.Delta == nil {
			return nil
		}
		switch inner.Delta.Type {
		case "text_delta":
			bs.text.WriteString(inner.Delta.Text)
		case "input_json_delta":
			bs.partial.WriteString(inner.Delta.PartialJSON)
		case "thinking_delta":
			bs.text.WriteString(inner.Delta.Thinking)
		}
		// Deltas are accumulated by the Session's conflation layer, not
		// broadcast by the builder directly.
		return nil

	case "content_block_stop":
		return b.handleContentBlockStop(inner.Index)
	}
	return nil
}

func (b *Builder) handleContentBlockStop(index int) *Delta {
	bs := b.blocks[index]
	if bs == nil {
		return nil
	}

	switch bs.kind {
	case "text":
		b.appendToLastAssistantText(bs.text.String())
		return &Delta{Type: "content", Payload: map[string]any{"index": index, "text": bs.text.String()}}

	case "thinking":
		b.appendToLastAssistantThinking(bs.text.String())
		return &Delta{Type: "thinking_content", Payload: map[string]any{"index": index, "thinking": bs.text.String()}}

	case "tool_use":
		if bs.suppressed {
			var q wireAskUserQuestion
			_ = json.Unmarshal([]byte(bs.partial.String()), &q)
			return &Delta{Type: "ask_user", Payload: map[string]any{"toolUseId": bs.toolID, "questions": q.Questions}}
		}
		b.toolCallsThisTurn++
		tc := ToolCall{ID: bs.toolID, Name: bs.toolName, Input: json.RawMessage(bs.partial.String()), Status: "running"}
		b.patchLastAssistantToolCall(tc)
		return &Delta{Type: "tool_start", Payload: tc}
	}
	return nil
}

func (b *Builder) handleAssistantComplete(ev wireEvent) *Delta {
	var msg wireMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil
	}

	if ev.IsAPIErrorMessage {
		text := extractAPIErrorText(msg.Content)
		b.snapshot.Status = "idle"
		b.snapshot.Messages = append(b.snapshot.Messages, Message{Role: "assistant", Content: text, Synthetic: true})
		return &Delta{Type: "api_error", Payload: text}
	}

	if msg.Usage != nil {
		b.recordInputTokens(msg.Usage)
		if msg.ID != "" {
			b.outputTokensByID[msg.ID] = msg.Usage.OutputTokens
		}
	}

	if b.seenMessageIDs[msg.ID] {
		return nil
	}
	if msg.ID != "" {
		b.seenMessageIDs[msg.ID] = true
	}

	if b.replaying || b.lastCommittedID != "" {
		b.blocks = make(map[int]*blockScratch)
	}

	built := b.buildFinalMessage(msg)
	b.snapshot.Messages = append(b.snapshot.Messages, built)
	b.lastCommittedID = msg.ID
	return nil
}

// buildFinalMessage builds the message from the complete message's own
// content array, on both the live and the replay path; the streaming
// scratch accumulated via content_block_stop is not consulted.
func (b *Builder) buildFinalMessage(msg wireMessage) Message {
	m := Message{ID: msg.ID, Role: msg.Role}

	var blocks []wireContentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err == nil && len(blocks) > 0 {
		var text, thinking strings.Builder
		for _, blk := range blocks {
			switch blk.Type {
			case "text":
				text.WriteString(blk.Text)
			case "thinking":
				thinking.WriteString(blk.Thinking)
			case "tool_use":
				m.ToolCalls = append(m.ToolCalls, ToolCall{ID: blk.ID, Name: blk.Name, Input: blk.Input, Status: "running"})
			}
		}
		m.Content = text.String()
		m.Thinking = thinking.String()
	}
	return m
}

func (b *Builder) handleUser(ev wireEvent) *Delta {
	var content json.RawMessage
	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(ev.Message, &msg); err == nil {
		content = msg.Content
	}

	var asString string
	isString := json.Unmarshal(content, &asString) == nil

	if isString {
		// Live processing drops this as a redundant echo of what the bridge
		// already rendered via InjectUserMessage when it wrote the prompt.
		// Replay has no such prior render to dedup against — it's the sole
		// source of the conversation's past user messages.
		if !b.replaying && pure.IsUserTextEcho(true, asString) {
			return nil
		}
		synthetic := pure.IsSyntheticSystemNotice(asString)
		b.snapshot.Messages = append(b.snapshot.Messages, Message{Role: "user", Content: asString, Synthetic: synthetic})
		return nil
	}

	var results []wireToolResultContent
	if err := json.Unmarshal(content, &results); err != nil {
		return nil
	}
	var lastDelta *Delta
	for _, r := range results {
		if b.isSuppressedAskUserID(r.ToolUseID) {
			continue
		}
		status := "completed"
		if r.IsError {
			status = "error"
		}
		b.patchToolResult(r.ToolUseID, r.Content, status)
		lastDelta = &Delta{Type: "tool_complete", Payload: map[string]any{"toolUseId": r.ToolUseID, "status": status}}
	}
	return lastDelta
}

func (b *Builder) handleResult(ev wireEvent) *Delta {
	b.snapshot.Status = "idle"
	for _, usage := range ev.ModelUsage {
		if usage.ContextWindow > 0 {
			b.contextWindow = usage.ContextWindow
		}
	}
	b.recomputeContextPct()
	return &Delta{Type: "status", Payload: b.snapshot.Status}
}

func (b *Builder) recordInputTokens(u *wireUsage) {
	b.lastInputTokens = u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
	b.recomputeContextPct()
}

func (b *Builder) recomputeContextPct() {
	if b.contextWindow <= 0 {
		return
	}
	b.snapshot.ContextPct = float64(b.lastInputTokens) / float64(b.contextWindow) * 100
}

func (b *Builder) appendToLastAssistantText(text string) {
	for i := len(b.snapshot.Messages) - 1; i >= 0; i-- {
		if b.snapshot.Messages[i].Role == "assistant" {
			b.snapshot.Messages[i].Content += text
			return
		}
	}
}

func (b *Builder) appendToLastAssistantThinking(text string) {
	for i := len(b.snapshot.Messages) - 1; i >= 0; i-- {
		if b.snapshot.Messages[i].Role == "assistant" {
			b.snapshot.Messages[i].Thinking += text
			return
		}
	}
}

func (b *Builder) patchLastAssistantToolCall(tc ToolCall) {
	for i := len(b.snapshot.Messages) - 1; i >= 0; i-- {
		if b.snapshot.Messages[i].Role == "assistant" {
			b.snapshot.Messages[i].ToolCalls = append(b.snapshot.Messages[i].ToolCalls, tc)
			return
		}
	}
}

func (b *Builder) patchToolResult(toolUseID string, output json.RawMessage, status string) {
	for i := range b.snapshot.Messages {
		for j := range b.snapshot.Messages[i].ToolCalls {
			if b.snapshot.Messages[i].ToolCalls[j].ID == toolUseID {
				b.snapshot.Messages[i].ToolCalls[j].Output = output
				b.snapshot.Messages[i].ToolCalls[j].Status = status
				return
			}
		}
	}
}

func (b *Builder) isSuppressedAskUserID(toolUseID string) bool {
	for _, bs := range b.blocks {
		if bs.suppressed && bs.toolID == toolUseID {
			return true
		}
	}
	return false
}

func extractAPIErrorText(content json.RawMessage) string {
	var blocks []wireContentBlock
	if err := json.Unmarshal(content, &blocks); err != nil || len(blocks) == 0 {
		return "API error"
	}
	raw := blocks[0].Text
	status, msg := parseAPIErrorBody(raw)
	if status == "" {
		return "API error: " + raw
	}
	return "API error " + status + ": " + msg
}

// parseAPIErrorBody extracts "API error: {status} {json body}"-shaped text
// of the form the Worker emits, e.g. `API Error: 400 {"error":{"message":"..."}}`.
// The Worker's own casing of "Error" varies, so the prefix match is
// case-insensitive; the matched span is still sliced out of raw so status
// and the JSON body keep their original casing.
func parseAPIErrorBody(raw string) (status, message string) {
	const prefix = "API error: "
	idx := strings.Index(strings.ToLower(raw), strings.ToLower(prefix))
	if idx < 0 {
		return "", raw
	}
	rest := raw[idx+len(prefix):]
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return "", raw
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return "", raw
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(parts[1]), &body); err != nil {
		return parts[0], parts[1]
	}
	return parts[0], body.Error.Message
}

// HandleReplayEvent feeds one journal-derived event (see package pure)
// through the same logic as a live event, so replaying a conversation on
// startup produces the identical snapshot a live stream would have.
func (b *Builder) HandleReplayEvent(ev pure.ReplayEvent) *Delta {
	switch ev.Type {
	case "assistant":
		return b.handleAssistantComplete(wireEvent{Type: "assistant", Message: ev.Raw})
	case "user":
		return b.handleUser(wireEvent{Type: "user", Message: ev.Raw})
	case "result":
		return b.handleResult(wireEvent{Type: "result"})
	}
	return nil
}
