// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import (
	"fmt"
	"strings"
)

// ContentItem is one element of a prompt's content array (image, file, etc).
// Only the fields PureLogic needs to reorder/merge are modeled; the rest
// passes through as opaque JSON at the caller's layer.
type ContentItem struct {
	Kind string
	Raw  any
}

// QueuedPrompt is one prompt waiting in a Session's promptQueue.
type QueuedPrompt struct {
	Text      string
	Content   []ContentItem
	Synthetic bool // bridge-generated (e.g. auto-resume notice), not user-typed
}

// CoalescePrompts merges an ordered batch of queued prompts into a single
// prompt. A single-element batch passes through unchanged (by value, so
// callers comparing for identity of a no-op merge can rely on it). A
// multi-element batch concatenates text bodies with visible [i/N] markers
// and concatenates the content arrays in order; a prompt lacking text
// contributes an empty slot rather than being skipped, preserving the
// numbering of the prompts around it.
func CoalescePrompts(prompts []QueuedPrompt) QueuedPrompt {
	if len(prompts) == 0 {
		return QueuedPrompt{}
	}
	if len(prompts) == 1 {
		return prompts[0]
	}

	n := len(prompts)
	var parts []string
	var content []ContentItem
	for i, p := range prompts {
		parts = append(parts, fmt.Sprintf("[%d/%d] %s", i+1, n, p.Text))
		content = append(content, p.Content...)
	}
	return QueuedPrompt{
		Text:    strings.Join(parts, "\n\n"),
		Content: content,
	}
}
