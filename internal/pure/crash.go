// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import "time"

// RestartKind classifies why the bridge is starting up relative to a given
// folder's previous Session, for choosing the right auto-resume message.
type RestartKind int

const (
	RestartCrash RestartKind = iota
	RestartSelfCaused
	RestartExternal
)

// ShutdownContext is the one-shot record written at graceful shutdown.
type ShutdownContext struct {
	Signal            string
	Timestamp         time.Time
	ActiveTurnFolders []string
}

// shutdownContextMaxAge bounds how long a ShutdownContext is trusted before
// it's treated as stale (and thus as if no graceful shutdown had occurred).
const shutdownContextMaxAge = 24 * time.Hour

// ClassifyRestart determines why the bridge is restarting relative to a
// given folder, given the most recently loaded ShutdownContext (nil if none
// was found on disk) and the current time.
//
//   - No context at all, or one older than 24h: crash (ungraceful).
//   - Context present, folder listed among activeTurnFolders: self-caused
//     (the bridge shut down mid-turn for that folder, likely causing it).
//   - Context present, folder not listed: external (something else
//     restarted the bridge while this folder was idle).
func ClassifyRestart(ctx *ShutdownContext, folder string, now time.Time) RestartKind {
	if ctx == nil {
		return RestartCrash
	}
	if now.Sub(ctx.Timestamp) > shutdownContextMaxAge {
		return RestartCrash
	}
	for _, f := range ctx.ActiveTurnFolders {
		if f == folder {
			return RestartSelfCaused
		}
	}
	return RestartExternal
}

// AutoResumeMessage returns the synthetic prompt text to deliver to a
// resumed Worker on first subscriber attachment, chosen by restart kind.
// Every message starts with systemNoticePrefix so StateBuilder flags it
// synthetic, including when it is later replayed from the journal.
func AutoResumeMessage(kind RestartKind) string {
	switch kind {
	case RestartCrash:
		return systemNoticePrefix + " The bridge crashed and recovered. Please continue where you left off."
	case RestartSelfCaused:
		return systemNoticePrefix + " The bridge shut down mid-turn, likely caused this. Please continue where you left off."
	default:
		return systemNoticePrefix + " The bridge was restarted externally. Continue where you left off."
	}
}
