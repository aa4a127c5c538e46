// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import "strings"

// localCommandOutputPrefix marks stdout lines that wrap locally-recovered
// command output rather than a genuine echo of what the bridge just sent.
const localCommandOutputPrefix = "<local-command-stdout>"

// IsUserTextEcho reports whether a Worker "user" event is simply the Worker
// replaying the prompt the bridge just wrote to its stdin. Such events carry
// plain-string content (as opposed to a tool-result's content array) and are
// dropped from the broadcast stream because the UI already rendered the
// prompt when it was sent. A string that happens to wrap recovered
// local-command output is deliberately excluded so it is still forwarded.
func IsUserTextEcho(contentIsString bool, content string) bool {
	if !contentIsString {
		return false
	}
	return !strings.HasPrefix(content, localCommandOutputPrefix)
}

// systemNoticePrefix marks bridge-injected resume/deposit notices so
// StateBuilder can flag them synthetic for the UI. The prefix stays in the
// displayed text.
const systemNoticePrefix = "[guéridon:system]"

// IsSyntheticSystemNotice reports whether a Worker-echoed "user" event is
// purely a bridge-injected notice, as opposed to a deposit note followed by
// real user text in the same message — the carve-out that keeps the prefix
// intact while still surfacing the genuine question underneath as a normal,
// non-synthetic message.
func IsSyntheticSystemNotice(content string) bool {
	if !strings.HasPrefix(content, systemNoticePrefix) {
		return false
	}
	_, rest, found := strings.Cut(content, "\n")
	if !found {
		return true
	}
	return strings.TrimSpace(rest) == ""
}
