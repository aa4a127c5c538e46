// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"runtime"
	"time"
)

// Status handles GET /status: lightweight operational diagnostics, deliberately
// excluded from request logging since it's typically polled.
func (d *Deps) Status(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds": time.Since(d.StartedAt).Seconds(),
		"memory": map[string]any{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"numGC":           mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
		"sessions":   d.Registry.Folders(),
	})
}
