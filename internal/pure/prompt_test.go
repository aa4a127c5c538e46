// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalescePrompts_Single(t *testing.T) {
	p := QueuedPrompt{Text: "hello"}
	got := CoalescePrompts([]QueuedPrompt{p})
	assert.Equal(t, p, got)
}

func TestCoalescePrompts_Multiple(t *testing.T) {
	got := CoalescePrompts([]QueuedPrompt{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	assert.Equal(t, "[1/3] a\n\n[2/3] b\n\n[3/3] c", got.Text)
}

func TestCoalescePrompts_EmptyTextSlotPreservesNumbering(t *testing.T) {
	got := CoalescePrompts([]QueuedPrompt{{Text: "a"}, {Text: ""}, {Text: "c"}})
	assert.Equal(t, "[1/3] a\n\n[2/3] \n\n[3/3] c", got.Text)
}
