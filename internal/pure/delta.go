// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import "fmt"

// DeltaKey identifies one accumulation bucket for conflatable stream deltas:
// a content block index paired with the delta's inner kind.
type DeltaKey struct {
	BlockIndex int
	InnerKind  string
}

// String renders a DeltaKey as a stable map key, for callers that want to
// index pending-delta accumulators by a plain string.
func (k DeltaKey) String() string {
	return fmt.Sprintf("%d:%s", k.BlockIndex, k.InnerKind)
}

// conflatableInnerKinds are the stream_event/content_block_delta inner delta
// kinds that accumulate rather than broadcast immediately.
var conflatableInnerKinds = map[string]bool{
	"text_delta":        true,
	"input_json_delta":  true,
	"thinking_delta":    true,
}

// IsConflatableDelta reports whether a Worker stream event is a conflatable
// delta: a content_block_delta event whose inner delta kind accumulates
// rather than broadcasts immediately. Any other event (including a
// content_block_delta carrying an unrecognized inner kind) must flush
// whatever is pending before being handled.
func IsConflatableDelta(eventType, innerDeltaKind string) bool {
	if eventType != "content_block_delta" {
		return false
	}
	return conflatableInnerKinds[innerDeltaKind]
}

// DeltaPayloadField returns the JSON field name carrying the delta's payload
// for a given inner delta kind, per the Worker's content_block_delta shape.
func DeltaPayloadField(innerDeltaKind string) string {
	switch innerDeltaKind {
	case "text_delta":
		return "text"
	case "input_json_delta":
		return "partial_json"
	case "thinking_delta":
		return "thinking"
	default:
		return ""
	}
}
