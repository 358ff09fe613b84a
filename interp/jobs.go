// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// jobState is a job's position in the running -> stopped -> done state
// machine described in SPEC_FULL.md §4.4.
type jobState uint8

const (
	jobRunning jobState = iota
	jobStopped
	jobDone
)

func (s jobState) String() string {
	switch s {
	case jobRunning:
		return "Running"
	case jobStopped:
		return "Stopped"
	default:
		return "Done"
	}
}

// maxJobs is the live-job count at which add reports "too many jobs";
// the job is still added, so the table is not capped.
const maxJobs = 64

// job tracks one background or stopped pipeline.
type job struct {
	id       int
	pgid     int
	pid      int // representative (last) pid in the pipeline
	cmd      string
	state    jobState
	status   int
	notified bool
}

// jobTable is the shell's job control ledger: SIGCHLD-driven state
// transitions are polled explicitly via updateFromWaits rather than
// from inside a signal handler, per the async-signal-safety rule in
// SPEC_FULL.md §5.
type jobTable struct {
	errf      func(format string, args ...any)
	jobs      []*job
	nextID    int
	lastBgPid int
	current   int
	previous  int
}

func newJobTable(errf func(format string, args ...any)) *jobTable {
	return &jobTable{errf: errf, nextID: 1}
}

// add registers a newly launched pipeline as a job and returns it.
func (t *jobTable) add(pgid, pid int, cmdText string) *job {
	if len(t.jobs) >= maxJobs {
		t.errf("zigsh: too many jobs\n")
	}
	j := &job{id: t.nextID, pgid: pgid, pid: pid, cmd: cmdText, state: jobRunning}
	t.nextID++
	t.jobs = append(t.jobs, j)
	t.lastBgPid = pid
	t.recomputeCurrent()
	return j
}

func (t *jobTable) recomputeCurrent() {
	t.previous = t.current
	t.current = 0
	for _, j := range t.jobs {
		if j.state != jobDone && j.id > t.current {
			t.current = j.id
		}
	}
	if t.previous == t.current {
		t.previous = 0
	}
}

func (t *jobTable) byPgid(pgid int) *job {
	for _, j := range t.jobs {
		if j.pgid == pgid {
			return j
		}
	}
	return nil
}

func (t *jobTable) byPid(pid int) *job {
	for _, j := range t.jobs {
		if j.pid == pid {
			return j
		}
	}
	return nil
}

// updateFromWaits performs a non-blocking reap of every ready child,
// mapping each to its job and advancing that job's state.
func (t *jobTable) updateFromWaits() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err != nil || pid <= 0 {
			return
		}
		j := t.byPid(pid)
		if j == nil {
			continue
		}
		switch {
		case ws.Stopped():
			j.state = jobStopped
		case ws.Continued():
			j.state = jobRunning
		case ws.Exited():
			j.state = jobDone
			j.status = ws.ExitStatus()
		case ws.Signaled():
			j.state = jobDone
			j.status = 128 + int(ws.Signal())
		}
		t.recomputeCurrent()
	}
}

// notifyDone writes a completion line for every done-and-unreported
// job, then drops it from the table.
func (t *jobTable) notifyDone(w func(string)) {
	kept := t.jobs[:0]
	for _, j := range t.jobs {
		if j.state == jobDone && !j.notified {
			mark := " "
			if j.id == t.current {
				mark = "+"
			} else if j.id == t.previous {
				mark = "-"
			}
			w(fmt.Sprintf("[%d]%s  Done\t\t%s\n", j.id, mark, j.cmd))
			continue
		}
		kept = append(kept, j)
	}
	t.jobs = kept
	t.recomputeCurrent()
}

// list returns the live (non-removed) jobs in id order, for the `jobs`
// builtin.
func (t *jobTable) list() []*job {
	out := make([]*job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

// parseJobspec resolves a %-spec (or a bare job id) to a job, following
// the rules in SPEC_FULL.md §4.4.
func (t *jobTable) parseJobspec(spec string) (*job, error) {
	spec = strings.TrimPrefix(spec, "%")
	switch spec {
	case "", "%", "+":
		if t.current == 0 {
			return nil, fmt.Errorf("no current job")
		}
		return t.byID(t.current), nil
	case "-":
		if t.previous == 0 {
			return nil, fmt.Errorf("no previous job")
		}
		return t.byID(t.previous), nil
	}
	if n, err := strconv.Atoi(spec); err == nil {
		if j := t.byID(n); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("no such job: %s", spec)
	}
	for _, j := range t.jobs {
		if strings.HasPrefix(j.cmd, spec) {
			return j, nil
		}
	}
	return nil, fmt.Errorf("no such job: %s", spec)
}

func (t *jobTable) byID(id int) *job {
	for _, j := range t.jobs {
		if j.id == id {
			return j
		}
	}
	return nil
}

// setupJobControl puts an interactive Runner into its own process
// group and takes ownership of the controlling terminal, the standard
// precondition for doing job control at all (see SPEC_FULL.md §4.4/§5):
// a shell that is not its terminal's foreground group never receives
// the keyboard-generated signals (SIGINT, SIGTSTP) it needs to manage
// jobs with.
func (r *Runner) setupJobControl() {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		r.ttyFd = -1
		return
	}
	pgid := unix.Getpid()
	_ = unix.Setpgid(0, pgid)
	_ = unix.IoctlSetInt(fd, unix.TIOCSPGRP, pgid)
	r.ttyFd = fd
	r.shellPgid = pgid

	// The shell itself must ignore the terminal-generated job-control
	// signals; children restore their default disposition via
	// SysProcAttr/Setpgid before the exec per os/exec's normal fork
	// behavior, since signal dispositions reset across exec.
	signal.Ignore(unix.SIGTTOU, unix.SIGTTIN, unix.SIGTSTP)
}

func isTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	return err == nil
}

// fdIsTerminal backs `test -t`: fd 0/1/2 map to the Runner's own
// stdin/stdout/stderr, which must be an *os.File (not a pipe or an
// in-memory buffer) and refer to a real terminal device.
func (r *Runner) fdIsTerminal(fd int) bool {
	var f *os.File
	switch fd {
	case 0:
		f, _ = r.stdin.(*os.File)
	case 1:
		f, _ = r.stdout.(*os.File)
	case 2:
		f, _ = r.stderr.(*os.File)
	default:
		return false
	}
	if f == nil {
		return false
	}
	return isTerminal(int(f.Fd()))
}

func (t *jobTable) remove(j *job) {
	for i, j2 := range t.jobs {
		if j2 == j {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			t.recomputeCurrent()
			return
		}
	}
}
