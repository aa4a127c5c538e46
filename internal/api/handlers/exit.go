// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Exit handles POST /exit/:folder: writes the deliberate-close exit marker,
// kills the Worker, and removes the Session. A subsequent POST
// /session/:folder for the same folder resolves a fresh Worker session id
// because of the marker PureLogic's resolution tree checks for.
func (d *Deps) Exit(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["folder"]
	folder, err := d.Registry.ResolveFolderPath(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FOLDER", err.Error())
		return
	}
	if !d.Registry.ExitFolder(folder) {
		writeError(w, http.StatusNotFound, "NO_SESSION", "no session for this folder")
		return
	}
	w.WriteHeader(http.StatusOK)
}
