// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Session handles POST /session/:folder. An optional clientId query
// parameter binds that SSE subscriber to the folder, delivering the
// one-shot auto-resume announcement if the resolved Session was resumed
// after an interruption.
func (d *Deps) Session(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["folder"]
	folder, err := d.Registry.ResolveFolderPath(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FOLDER", err.Error())
		return
	}

	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}

	sess, res, err := d.Registry.ConnectFolder(folder, req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		if sub, ok := d.Hub.Lookup(clientID); ok {
			d.Hub.BindFolder(sub, folder)
			if res.Resumable {
				sess.AnnounceSubscriber(d.Registry.RestartKind(folder))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": res.SessionID,
		"folder":    folder,
		"resumable": res.Resumable,
	})
}
