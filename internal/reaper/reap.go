// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reaper

import (
	"os"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/spm1001/gueridon/internal/logging"
)

// maxRecordAge bounds how long a persisted record is trusted; anything
// older is assumed to belong to a long-gone Worker and is skipped rather
// than chased down.
const maxRecordAge = 24 * time.Hour

// escalationDelay is how long the reaper waits after a polite signal before
// escalating to SIGKILL for a process that is still alive.
const escalationDelay = 3 * time.Second

// Summary reports what the startup reap sweep did.
type Summary struct {
	Considered int
	Reaped     int
	Skipped    int
}

// Sweep runs once at startup: it reads the persisted record file, and for
// every record still young enough to trust, checks whether the pid (and its
// process-tree descendants) survived the bridge's own shutdown, sending a
// polite signal followed by an escalating hard-kill to anything still
// alive. The record file is deleted once the sweep completes, regardless of
// outcome, since whatever was persisted there is now either reaped or
// deliberately skipped.
func Sweep(recordsPath string, log *logging.Logger) Summary {
	records, err := Load(recordsPath)
	if err != nil {
		if log != nil {
			log.Warnf("orphan reap: failed to load records: %v", err)
		}
		return Summary{}
	}
	defer Delete(recordsPath)

	var summary Summary
	now := time.Now()
	for _, rec := range records {
		summary.Considered++
		if now.Sub(rec.SpawnedAt) > maxRecordAge {
			summary.Skipped++
			continue
		}
		if !pidAlive(rec.PID) {
			continue
		}

		pids := append([]int{rec.PID}, descendantsOf(rec.PID)...)
		for _, pid := range pids {
			killWithEscalation(pid)
		}
		summary.Reaped++
		if log != nil {
			log.Infof("orphan reap: reaped worker pid=%d folder=%s descendants=%d", rec.PID, rec.Folder, len(pids)-1)
		}
	}
	return summary
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// descendantsOf walks the OS process table to find every process whose
// ppid chain leads back to pid, catching children that would otherwise be
// reparented to init and left holding resources after pid itself is killed.
func descendantsOf(pid int) []int {
	all, err := ps.Processes()
	if err != nil {
		return nil
	}
	byParent := make(map[int][]int)
	for _, p := range all {
		byParent[p.PPid()] = append(byParent[p.PPid()], p.Pid())
	}

	var out []int
	var walk func(parent int)
	walk = func(parent int) {
		for _, child := range byParent[parent] {
			out = append(out, child)
			walk(child)
		}
	}
	walk(pid)
	return out
}

func killWithEscalation(pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)

	time.AfterFunc(escalationDelay, func() {
		if pidAlive(pid) {
			_ = proc.Signal(syscall.SIGKILL)
		}
	})
}
