// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/spm1001/gueridon/internal/pure"
)

type promptRequest struct {
	Text    string            `json:"text"`
	Content []json.RawMessage `json:"content"`
}

// Prompt handles POST /prompt/:folder: delivers immediately if the
// Session's Worker is idle, or queues if a turn is already in progress.
func (d *Deps) Prompt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["folder"]
	folder, err := d.Registry.ResolveFolderPath(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FOLDER", err.Error())
		return
	}

	sess, ok := d.Registry.Lookup(folder)
	if !ok {
		writeError(w, http.StatusNotFound, "NO_SESSION", "no session for this folder; POST /session/:folder first")
		return
	}

	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}

	qp := pure.QueuedPrompt{Text: req.Text, Content: toContentItems(req.Content)}
	delivered, position := sess.Prompt(qp)
	if delivered {
		writeJSON(w, http.StatusOK, map[string]any{"delivered": true})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "position": position})
}

func toContentItems(raw []json.RawMessage) []pure.ContentItem {
	if len(raw) == 0 {
		return nil
	}
	items := make([]pure.ContentItem, 0, len(raw))
	for _, r := range raw {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(r, &head)
		var decoded any
		_ = json.Unmarshal(r, &decoded)
		items = append(items, pure.ContentItem{Kind: head.Type, Raw: decoded})
	}
	return items
}
