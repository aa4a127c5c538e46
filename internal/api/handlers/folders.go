// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import "net/http"

// Folders handles GET /folders, the same snapshot pushed as the folders
// frame over SSE on connect.
func (d *Deps) Folders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"folders": d.Registry.Folders()})
}
