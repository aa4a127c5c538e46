// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import "time"

// JournalRecord is the minimal shape PureLogic needs from the latest journal
// entry on disk for a folder: the Worker session id it was written under,
// and its file's modification time (for the stale-handoff guard).
type JournalRecord struct {
	ID    string
	Mtime time.Time
}

// Handoff is the Worker-emitted record of a clean, deliberate close: the
// session id being closed, and when that record was written.
type Handoff struct {
	ID    string
	Mtime time.Time
}

// Resolution is the outcome of resolving which Worker session id a Session
// supervisor should use for a folder.
type Resolution struct {
	SessionID   string
	Resumable   bool
	IsReconnect bool
}

// staleHandoffThreshold bounds how much later than the handoff's own mtime
// the latest journal record's mtime can be before the handoff is judged to
// describe an older, already-superseded session rather than the one that
// just finished. Distinguishes "conversation completed its turn just now"
// (tens of seconds) from "was resumed later and kept working".
const staleHandoffThreshold = 2 * time.Minute

// ResolveSessionForFolder implements the session-resolution decision tree:
//
//  1. An in-process Session already exists for this folder: reconnect,
//     preserving its id and resumable bit untouched.
//  2. No journal record on disk: fresh session.
//  3. An explicit exit marker was recorded for the journal's latest id:
//     fresh session (the prior conversation was deliberately ended).
//  4. A handoff record matches the journal's latest id (and isn't stale):
//     fresh session (the prior conversation closed cleanly).
//  5. Otherwise: resume the journal's latest id.
//
// newID is called lazily, only when a fresh id is actually needed.
func ResolveSessionForFolder(
	inProcess *Resolution,
	journal *JournalRecord,
	handoff *Handoff,
	exitMarkerSet bool,
	newID func() string,
) Resolution {
	if inProcess != nil {
		return Resolution{SessionID: inProcess.SessionID, Resumable: inProcess.Resumable, IsReconnect: true}
	}

	if journal == nil {
		return Resolution{SessionID: newID(), Resumable: false}
	}

	if exitMarkerSet {
		return Resolution{SessionID: newID(), Resumable: false}
	}

	effectiveHandoff := handoff
	if effectiveHandoff != nil && journal.Mtime.Sub(effectiveHandoff.Mtime) > staleHandoffThreshold {
		effectiveHandoff = nil
	}

	if effectiveHandoff != nil && effectiveHandoff.ID == journal.ID {
		return Resolution{SessionID: newID(), Resumable: false}
	}

	return Resolution{SessionID: journal.ID, Resumable: true}
}
