// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/spm1001/gueridon/internal/sse"
)

// Events handles GET /events?clientId=<id>, the long-lived SSE connection.
// A missing clientId is assigned a fresh one; the client is expected to
// persist it across reconnects so Last-Event-ID semantics and folder
// rebinding keep working.
func (d *Deps) Events(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	sub := d.Hub.Register(clientID)
	defer d.Hub.Unregister(sub)

	initial := []sse.Frame{{
		Name:    "folders",
		Payload: map[string]any{"folders": d.Registry.Folders()},
	}}

	if err := sse.Serve(w, r, sub, d.ProtocolVersion, initial); err != nil {
		d.Log.Debugf("sse: clientId=%s: %v", clientID, err)
	}
}
