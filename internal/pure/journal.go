// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import "encoding/json"

// JournalLine is one record in the Worker's own JSONL journal file, modeled
// after the line shape Worker-side tooling writes (type/sessionId/uuid/
// message/cwd/timestamp/isSidechain/userType), filtered to the fields
// PureLogic needs to replay a conversation.
type JournalLine struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	UUID        string          `json:"uuid"`
	Message     json.RawMessage `json:"message"`
	IsMeta      bool            `json:"isMeta"`
	Timestamp   string          `json:"timestamp"`
}

// journalMessage is the minimal shape PureLogic needs out of Message to find
// its id and role, without depending on the full wire-format message type.
type journalMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// ReplayEvent is one event PureLogic reconstructs from the journal, shaped
// identically to a live Worker stream event so StateBuilder can consume
// replayed and live events through the same code path.
type ReplayEvent struct {
	Source string          // always "worker" for journal-derived events
	Type   string          // "assistant", "user", or "result" (synthesized)
	Raw    json.RawMessage // the (possibly merged) message payload; for "result", {"usage": ...} when any usage was seen
}

// ParseJournal converts a Worker's raw JSONL journal lines into a replayable
// event sequence, returning the events plus a count of malformed lines that
// were silently skipped. A non-empty sequence ends with a synthesized
// "result" event carrying the last usage observed on an assistant record.
//
// Two non-obvious rules:
//
//   - Records with kind "queue-operation", "progress", "system", or a
//     "user" record carrying isMeta are internal bookkeeping and filtered
//     out entirely.
//   - Consecutive assistant records sharing the same message id are merged
//     into one event (their content block arrays concatenated, usage taken
//     from whichever record saw it last), and this merge must span an
//     interleaved user (tool-result) record: the Worker emits
//     assistant(tool_use) -> user(tool_result) -> assistant(text) all under
//     one message id during a multi-tool turn, so treating the first user
//     record as a flush boundary would produce duplicate assistant messages
//     on replay.
func ParseJournal(lines [][]byte) (events []ReplayEvent, malformed int) {
	type pendingAssistant struct {
		id      string
		content []json.RawMessage
		msg     journalMessage
		idx     int // index into events of the placeholder being built
	}
	var pending *pendingAssistant
	var lastUsage json.RawMessage
	flushPending := func() {
		if pending == nil {
			return
		}
		merged := pending.msg
		contentArr, _ := json.Marshal(pending.content)
		merged.Content = contentArr
		raw, _ := json.Marshal(merged)
		events[pending.idx].Raw = raw
		pending = nil
	}

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec JournalLine
		if err := json.Unmarshal(line, &rec); err != nil {
			malformed++
			continue
		}
		switch rec.Type {
		case "queue-operation", "progress", "system":
			continue
		case "user":
			if rec.IsMeta {
				continue
			}
			// A user record does not by itself flush a pending assistant
			// merge: it may be an interleaved tool-result that belongs to
			// the turn still being assembled.
			events = append(events, ReplayEvent{Source: "worker", Type: "user", Raw: rec.Message})
		case "assistant":
			var msg journalMessage
			_ = json.Unmarshal(rec.Message, &msg)
			if len(msg.Usage) > 0 {
				lastUsage = msg.Usage
			}

			var blocks []json.RawMessage
			_ = json.Unmarshal(msg.Content, &blocks)

			if pending != nil && pending.id == msg.ID && msg.ID != "" {
				pending.content = append(pending.content, blocks...)
				if len(msg.Usage) == 0 {
					msg.Usage = pending.msg.Usage
				}
				pending.msg = msg
				continue
			}

			flushPending()
			events = append(events, ReplayEvent{Source: "worker", Type: "assistant"})
			pending = &pendingAssistant{id: msg.ID, content: blocks, msg: msg, idx: len(events) - 1}
		default:
			malformed++
		}
	}
	flushPending()

	if len(events) > 0 {
		result := ReplayEvent{Source: "worker", Type: "result"}
		if lastUsage != nil {
			result.Raw, _ = json.Marshal(map[string]json.RawMessage{"usage": lastUsage})
		}
		events = append(events, result)
	}

	return events, malformed
}
