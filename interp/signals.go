// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"strings"

	"golang.org/x/sys/unix"
)

// signalName maps a received os.Signal to the name `trap` registers
// traps under (e.g. unix.SIGINT -> "INT").
func signalName(sig unix.Signal) string {
	for name, s := range signalNames {
		if s == sig {
			return name
		}
	}
	return ""
}

// HandleSignal records that sig arrived, for the next safe point to act
// on. It does only a bounded array write, matching the async-signal-safe
// dispatcher design in SPEC_FULL.md §4.5: no trap callback, allocation,
// or I/O happens here, only in checkSignals, which always runs on the
// Runner's own goroutine between commands.
func (r *Runner) HandleSignal(sig unix.Signal) {
	if int(sig) >= 0 && int(sig) < len(r.pendingSig) {
		r.pendingSig[sig].Store(true)
	}
}

// checkSignals runs at every safe point named in SPEC_FULL.md §4.5
// (between commands, before reading the next line, after a builtin
// returns, before blocking in wait): it reaps any pending children and
// fires whichever traps were requested while the shell was busy.
func (r *Runner) checkSignals(ctx context.Context) {
	r.jobs.updateFromWaits()
	for sig := range r.pendingSig {
		if !r.pendingSig[sig].CompareAndSwap(true, false) {
			continue
		}
		name := signalName(unix.Signal(sig))
		if name == "" {
			continue
		}
		if name == "INT" && r.traps["INT"] == "" {
			r.flow = flowExit
			r.lastExit = 128 + sig
			continue
		}
		r.runTrap(ctx, name)
	}
}

// trapNames lists the known signal names in map iteration order (not
// sorted); `trap -l` does not use it.
func trapNames() []string {
	names := make([]string, 0, len(signalNames))
	for name := range signalNames {
		names = append(names, name)
	}
	return names
}

func normalizeSignalName(s string) string {
	return strings.ToUpper(strings.TrimPrefix(s, "SIG"))
}
