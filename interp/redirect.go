// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"os"

	"zigsh.dev/zigsh/syntax"
)

// savedFd remembers one of the Runner's three standard streams before a
// redirection overwrote it, so stmtSync can restore it once the
// statement finishes. Only fds 0, 1, and 2 are addressable; the parser
// accepts any fd number, and other numbers are treated as fd 1.
type savedFd struct {
	which int // 0, 1, or 2
	in    io.Reader
	out   io.Writer
}

func (r *Runner) pushStdin() savedFd  { return savedFd{which: 0, in: r.stdin} }
func (r *Runner) pushStdout() savedFd { return savedFd{which: 1, out: r.stdout} }
func (r *Runner) pushStderr() savedFd { return savedFd{which: 2, out: r.stderr} }

func (r *Runner) restoreFd(s savedFd) {
	switch s.which {
	case 0:
		r.stdin = s.in
	case 1:
		r.stdout = s.out
	case 2:
		r.stderr = s.out
	}
}

// applyRedirs opens and wires every redirection on st, returning a
// closer that undoes them (closes opened files and restores the
// streams they replaced) once the statement completes.
func (r *Runner) applyRedirs(ctx context.Context, st *syntax.Stmt) (func(), bool) {
	var saved []savedFd
	var closers []io.Closer
	ok := true
	for _, rd := range st.Redirs {
		cls, err := r.redir(ctx, rd, &saved)
		if err != nil {
			r.errf("%v\n", err)
			ok = false
			break
		}
		if cls != nil {
			closers = append(closers, cls)
		}
	}
	undo := func() {
		for _, c := range closers {
			c.Close()
		}
		for i := len(saved) - 1; i >= 0; i-- {
			r.restoreFd(saved[i])
		}
	}
	return undo, ok
}

func (r *Runner) targetStream(rd *syntax.Redirect) int {
	if rd.N == nil {
		if rd.Op == syntax.LSS || rd.Op == syntax.SHL || rd.Op == syntax.DHEREDOC ||
			rd.Op == syntax.WHEREDOC || rd.Op == syntax.DPLIN || rd.Op == syntax.RDRINOUT {
			return 0
		}
		return 1
	}
	switch rd.N.Value {
	case "0":
		return 0
	case "1":
		return 1
	case "2":
		return 2
	}
	return 1
}

func (r *Runner) redir(ctx context.Context, rd *syntax.Redirect, saved *[]savedFd) (io.Closer, error) {
	which := r.targetStream(rd)

	if rd.Hdoc != nil {
		pr, err := r.hdocReader(rd)
		if err != nil {
			return nil, err
		}
		*saved = append(*saved, r.pushStdin())
		r.stdin = pr
		return pr, nil
	}

	switch rd.Op {
	case syntax.DPLOUT:
		arg := r.literal(rd.Word)
		*saved = append(*saved, r.saveStream(which))
		switch arg {
		case "1":
			r.setStream(which, nil, r.stdout)
		case "2":
			r.setStream(which, nil, r.stderr)
		case "-":
			r.setStream(which, nil, io.Discard)
		default:
			return nil, fmt.Errorf("unsupported fd duplication: >&%s", arg)
		}
		return nil, nil
	case syntax.DPLIN:
		arg := r.literal(rd.Word)
		*saved = append(*saved, r.saveStream(which))
		switch arg {
		case "0":
			r.setStream(which, r.stdin, nil)
		case "-":
			r.setStream(which, nil, nil)
		default:
			return nil, fmt.Errorf("unsupported fd duplication: <&%s", arg)
		}
		return nil, nil
	case syntax.WHEREDOC:
		arg := r.literal(rd.Word)
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		*saved = append(*saved, r.pushStdin())
		r.stdin = pr
		go func() {
			io.WriteString(pw, arg)
			io.WriteString(pw, "\n")
			pw.Close()
		}()
		return pr, nil
	}

	arg := r.literal(rd.Word)
	var flags int
	switch rd.Op {
	case syntax.LSS, syntax.RDRINOUT:
		flags = os.O_RDONLY
		if rd.Op == syntax.RDRINOUT {
			flags = os.O_RDWR | os.O_CREATE
		}
	case syntax.GTR:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if r.opts["noclobber"] {
			if _, err := r.stat(ctx, arg); err == nil {
				return nil, fmt.Errorf("%s: cannot overwrite existing file", arg)
			}
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
	case syntax.CLBOUT:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case syntax.SHR:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return nil, fmt.Errorf("unhandled redirect operator: %v", rd.Op)
	}

	f, err := r.open(ctx, arg, flags, 0o644)
	if err != nil {
		return nil, err
	}
	*saved = append(*saved, r.saveStream(which))
	switch which {
	case 0:
		r.setStream(0, f, nil)
	default:
		r.setStream(which, nil, f)
	}
	return f, nil
}

func (r *Runner) saveStream(which int) savedFd {
	switch which {
	case 0:
		return r.pushStdin()
	case 2:
		return r.pushStderr()
	default:
		return r.pushStdout()
	}
}

func (r *Runner) setStream(which int, in io.Reader, out io.Writer) {
	switch which {
	case 0:
		r.stdin = in
	case 2:
		r.stderr = out
	default:
		r.stdout = out
	}
}

// hdocReader streams a heredoc body through a pipe, since the body may
// be larger than a pipe's buffer and expansion happens eagerly.
func (r *Runner) hdocReader(rd *syntax.Redirect) (*os.File, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	body := r.literal(rd.Hdoc)
	go func() {
		io.WriteString(pw, body)
		pw.Close()
	}()
	return pr, nil
}

// open runs path through the open handler, which resolves it against
// the current directory; errors are returned to the caller to report.
func (r *Runner) open(ctx context.Context, path string, flags int, mode os.FileMode) (io.ReadWriteCloser, error) {
	f, err := r.openHandler(r.handlerCtx(ctx, nil), path, flags, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Runner) stat(ctx context.Context, path string) (os.FileInfo, error) {
	return r.statHandler(r.handlerCtx(ctx, nil), path, true)
}
