// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Abort handles POST /abort/:folder: kills the Worker with escalation
// without tearing down the Session itself.
func (d *Deps) Abort(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["folder"]
	folder, err := d.Registry.ResolveFolderPath(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FOLDER", err.Error())
		return
	}
	if !d.Registry.AbortFolder(folder) {
		writeError(w, http.StatusNotFound, "NO_SESSION", "no session for this folder")
		return
	}
	w.WriteHeader(http.StatusOK)
}
