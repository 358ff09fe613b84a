// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// builtinTest implements `test`/`[`'s POSIX operator set: unary file and
// string tests, binary string/numeric comparisons, and the three
// logical connectives (!, -a, -o). An expression is split at its first
// -a or -o and each side is evaluated recursively, so `a -o b -a c`
// means a || (b && c).
func (r *Runner) builtinTest(name string, args []string) int {
	if name == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			r.errf("[: missing closing ]\n")
			return 2
		}
		args = args[:len(args)-1]
	}
	ok, err := r.evalTest(args)
	if err != nil {
		r.errf("test: %v\n", err)
		return 2
	}
	return boolExit(ok)
}

func (r *Runner) evalTest(args []string) (bool, error) {
	switch len(args) {
	case 0:
		return false, nil
	case 1:
		return args[0] != "", nil
	case 2:
		if args[0] == "!" {
			ok, err := r.evalTest(args[1:])
			return !ok, err
		}
		return r.unaryTest(args[0], args[1])
	case 3:
		if args[0] == "!" {
			ok, err := r.evalTest(args[1:])
			return !ok, err
		}
		if ok, isBin := r.binaryTest(args[0], args[1], args[2]); isBin {
			return ok, nil
		}
	}
	// -a/-o combine two sub-expressions: split at the first one found
	// and evaluate both sides recursively.
	for i, a := range args {
		switch a {
		case "-a":
			l, err := r.evalTest(args[:i])
			if err != nil {
				return false, err
			}
			rr, err := r.evalTest(args[i+1:])
			return l && rr, err
		case "-o":
			l, err := r.evalTest(args[:i])
			if err != nil {
				return false, err
			}
			rr, err := r.evalTest(args[i+1:])
			return l || rr, err
		}
	}
	return false, nil
}

func (r *Runner) unaryTest(op, arg string) (bool, error) {
	switch op {
	case "-z":
		return arg == "", nil
	case "-n":
		return arg != "", nil
	case "-e":
		_, err := os.Stat(r.absPath(arg))
		return err == nil, nil
	case "-f":
		info, err := os.Stat(r.absPath(arg))
		return err == nil && info.Mode().IsRegular(), nil
	case "-d":
		info, err := os.Stat(r.absPath(arg))
		return err == nil && info.IsDir(), nil
	case "-L", "-h":
		info, err := os.Lstat(r.absPath(arg))
		return err == nil && info.Mode()&os.ModeSymlink != 0, nil
	case "-r":
		return r.accessible(arg, 4), nil
	case "-w":
		return r.accessible(arg, 2), nil
	case "-x":
		info, err := os.Stat(r.absPath(arg))
		return err == nil && info.Mode()&0o111 != 0, nil
	case "-s":
		info, err := os.Stat(r.absPath(arg))
		return err == nil && info.Size() > 0, nil
	case "-t":
		fd, err := strconv.Atoi(arg)
		if err != nil {
			return false, nil
		}
		return r.fdIsTerminal(fd), nil
	}
	return false, nil
}

// accessible reports whether the calling process has the given access
// mode (unix.R_OK, unix.W_OK, ...) on arg, using the real permission
// bits rather than mere existence.
func (r *Runner) accessible(arg string, mode int) bool {
	return unix.Access(r.absPath(arg), uint32(mode)) == nil
}

func (r *Runner) absPath(p string) string {
	if p == "" || p[0] == '/' {
		return p
	}
	return r.Dir + "/" + p
}

func (r *Runner) binaryTest(a, op, b string) (bool, bool) {
	switch op {
	case "=", "==":
		return a == b, true
	case "!=":
		return a != b, true
	case "-eq", "-ne", "-lt", "-le", "-gt", "-ge":
		na, erra := strconv.ParseInt(a, 10, 64)
		nb, errb := strconv.ParseInt(b, 10, 64)
		if erra != nil || errb != nil {
			return false, true
		}
		switch op {
		case "-eq":
			return na == nb, true
		case "-ne":
			return na != nb, true
		case "-lt":
			return na < nb, true
		case "-le":
			return na <= nb, true
		case "-gt":
			return na > nb, true
		case "-ge":
			return na >= nb, true
		}
	case "-nt", "-ot":
		ia, erra := os.Stat(r.absPath(a))
		ib, errb := os.Stat(r.absPath(b))
		if erra != nil || errb != nil {
			return false, true
		}
		if op == "-nt" {
			return ia.ModTime().After(ib.ModTime()), true
		}
		return ia.ModTime().Before(ib.ModTime()), true
	case "-ef":
		ia, erra := os.Stat(r.absPath(a))
		ib, errb := os.Stat(r.absPath(b))
		return erra == nil && errb == nil && os.SameFile(ia, ib), true
	}
	return false, false
}
