// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"zigsh.dev/zigsh/expand"
)

// HandlerCtx returns the HandlerContext value stored in ctx, set by the
// Runner around every handler invocation.
func HandlerCtx(ctx context.Context) HandlerContext {
	hc, ok := ctx.Value(handlerCtxKey{}).(HandlerContext)
	if !ok {
		panic("interp.HandlerCtx: no HandlerContext in ctx")
	}
	return hc
}

type handlerCtxKey struct{}

// HandlerContext carries the portion of the Runner's state that
// handler functions need, plus job-control hooks for ExecHandlerFunc.
type HandlerContext struct {
	Env expand.Environ
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// PgidBox is shared by every stage of one pipeline. Whichever stage
	// forks first sees *PgidBox == 0, becomes the process group leader,
	// and stores its own pid there; every later stage sees the leader's
	// pgid already present and joins it instead of starting a new
	// group. A lone simple command gets a fresh, throwaway box of its
	// own and so always becomes its own group leader.
	PgidBox *int
	// Foreground is whether the terminal should be handed to the
	// command's process group once it exists; TTYFd is the controlling
	// terminal to hand it on (-1 when the shell has none). ShellPgid is
	// the group to restore the terminal to once the command returns.
	Foreground bool
	TTYFd      int
	ShellPgid  int
	// StartedPID, if non-nil, receives the started process's pid so the
	// job table can keep tracking it after the handler returns (e.g.
	// the job was stopped rather than having exited).
	StartedPID *int
}

// CallHandlerFunc runs for every simple command once assignments and
// field expansion have occurred, and may rewrite its argument list.
type CallHandlerFunc func(ctx context.Context, args []string) ([]string, error)

// ExecHandlerFunc executes a simple command whose first argument names
// neither a shell function nor a builtin.
type ExecHandlerFunc func(ctx context.Context, args []string) error

// DefaultExecHandler looks up args[0] in $PATH and executes it,
// publishing the child's pgid into HandlerContext.PgidBox once the
// process has started, so later pipeline stages can join its group.
func DefaultExecHandler() ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := HandlerCtx(ctx)
		path, err := LookPathDir(hc.Dir, hc.Env, args[0])
		if err != nil {
			fmt.Fprintln(hc.Stderr, err)
			return NewExitStatus(127)
		}
		cmd := exec.Cmd{
			Path:   path,
			Args:   args,
			Env:    execEnv(hc.Env),
			Dir:    hc.Dir,
			Stdin:  hc.Stdin,
			Stdout: hc.Stdout,
			Stderr: hc.Stderr,
			SysProcAttr: &syscall.SysProcAttr{
				Setpgid: true,
				Pgid:    pgidBoxValue(hc.PgidBox),
			},
		}
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(hc.Stderr, "%v\n", err)
			return NewExitStatus(126)
		}
		pid := cmd.Process.Pid
		pgid := pid
		if v := pgidBoxValue(hc.PgidBox); v != 0 {
			pgid = v
		}
		// Race mitigation: call setpgid from the parent side too, in
		// case the child hasn't reached its own setpgid(0, ...) yet.
		_ = unix.Setpgid(pid, pgid)
		if hc.PgidBox != nil {
			*hc.PgidBox = pgid
		}
		if hc.StartedPID != nil {
			*hc.StartedPID = pid
		}
		if hc.Foreground && hc.TTYFd >= 0 {
			_ = unix.IoctlSetInt(hc.TTYFd, unix.TIOCSPGRP, pgid)
		}

		var ws unix.WaitStatus
		for {
			_, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return err
			}
			break
		}
		if hc.Foreground && hc.TTYFd >= 0 {
			_ = unix.IoctlSetInt(hc.TTYFd, unix.TIOCSPGRP, hc.ShellPgid)
		}
		switch {
		case ws.Stopped():
			return errStopped{pid: pid}
		case ws.Exited():
			return NewExitStatus(uint8(ws.ExitStatus()))
		case ws.Signaled():
			return NewExitStatus(uint8(128 + int(ws.Signal())))
		}
		return nil
	}
}

func pgidBoxValue(box *int) int {
	if box == nil {
		return 0
	}
	return *box
}

// errStopped signals that the foreground process group was stopped
// (e.g. by SIGTSTP) rather than exiting; the pipeline executor turns
// this into a stopped job instead of an exit status.
type errStopped struct{ pid int }

func (e errStopped) Error() string { return "stopped" }

func checkStat(dir, file string, checkExec bool) (string, error) {
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	m := info.Mode()
	if m.IsDir() {
		return "", fmt.Errorf("is a directory")
	}
	if checkExec && m&0o111 == 0 {
		return "", fmt.Errorf("permission denied")
	}
	return file, nil
}

func findExecutable(dir, file string) (string, error) {
	return checkStat(dir, file, true)
}

func findFile(dir, file string) (string, error) {
	return checkStat(dir, file, false)
}

// LookPathDir resolves file against $PATH, using cwd to make relative
// entries (and file itself, if it already contains a slash) absolute.
func LookPathDir(cwd string, env expand.Environ, file string) (string, error) {
	return lookPathDir(cwd, env, file, findExecutable)
}

func lookPathDir(cwd string, env expand.Environ, file string, find func(dir, file string) (string, error)) (string, error) {
	if strings.ContainsRune(file, '/') {
		return find(cwd, file)
	}
	pathList := filepath.SplitList(env.Get("PATH").String())
	if len(pathList) == 0 {
		pathList = []string{""}
	}
	for _, elem := range pathList {
		var path string
		switch elem {
		case "", ".":
			path = "." + string(filepath.Separator) + file
		default:
			path = filepath.Join(elem, file)
		}
		if f, err := find(cwd, path); err == nil {
			return f, nil
		}
	}
	return "", fmt.Errorf("%s: command not found", file)
}

// scriptFromPathDir is like LookPathDir but also accepts non-executable
// files, used by the `.`/`source` builtin.
func scriptFromPathDir(cwd string, env expand.Environ, file string) (string, error) {
	return lookPathDir(cwd, env, file, findFile)
}

// OpenHandlerFunc opens files for redirections.
type OpenHandlerFunc func(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error)

// DefaultOpenHandler uses os.OpenFile, resolving relative paths
// against the handler context's current directory.
func DefaultOpenHandler() OpenHandlerFunc {
	return func(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
		hc := HandlerCtx(ctx)
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(hc.Dir, path)
		}
		return os.OpenFile(path, flag, perm)
	}
}

// ReadDirHandlerFunc lists a directory's entries. A Runner stores one
// (see [ReadDirHandler]), but pathname expansion does not call it.
type ReadDirHandlerFunc func(ctx context.Context, path string) ([]fs.DirEntry, error)

// DefaultReadDirHandler uses os.ReadDir.
func DefaultReadDirHandler() ReadDirHandlerFunc {
	return func(ctx context.Context, path string) ([]fs.DirEntry, error) {
		return os.ReadDir(path)
	}
}

// StatHandlerFunc stats a file, optionally following symlinks.
type StatHandlerFunc func(ctx context.Context, name string, followSymlinks bool) (fs.FileInfo, error)

// DefaultStatHandler uses os.Stat/os.Lstat.
func DefaultStatHandler() StatHandlerFunc {
	return func(ctx context.Context, path string, followSymlinks bool) (fs.FileInfo, error) {
		if !followSymlinks {
			return os.Lstat(path)
		}
		return os.Stat(path)
	}
}

// NewExitStatus is returned by an ExecHandlerFunc to report a specific
// exit status without otherwise halting the Runner.
func NewExitStatus(code uint8) error { return ExitStatus(code) }
