// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"fmt"
	"strconv"
	"strings"
)

// builtinPrintf implements the POSIX subset of printf(1): %s %d %i %o
// %u %x %X %c %b %% conversions, width/precision/flag passthrough to
// fmt (including dynamic `*` width/precision), and \-escape
// interpretation in the format string itself. The format recycles over
// the argument list when more arguments remain than conversions, as
// printf(1) requires; a `\c` escape (in the format string or inside a
// %b operand) stops all further output immediately, per spec.md §6.
func (r *Runner) builtinPrintf(args []string) int {
	if len(args) == 0 {
		r.errf("printf: usage: printf format [arguments]\n")
		return 1
	}
	format, formatStop := interpretBackslashes(args[0])
	rest := args[1:]

	first := true
	for first || len(rest) > 0 {
		first = false
		out, n, stop, err := formatOnce(format, rest)
		if err != nil {
			r.errf("printf: %v\n", err)
			r.out(out)
			return 1
		}
		r.out(out)
		if stop || formatStop || n == 0 {
			break
		}
		rest = rest[n:]
	}
	return 0
}

func formatOnce(format string, args []string) (out string, consumed int, stop bool, err error) {
	var sb strings.Builder
	ai := 0
	next := func() string {
		if ai < len(args) {
			s := args[ai]
			ai++
			return s
		}
		return ""
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && strings.ContainsRune("-+ 0#123456789.*", rune(format[j])) {
			j++
		}
		if j >= len(format) {
			sb.WriteByte('%')
			break
		}
		spec := format[i : j+1]
		verb := format[j]
		i = j

		// Resolve dynamic width/precision (%*d, %.*f, ...) left to
		// right, each `*` consuming the next operand as an integer.
		for strings.Contains(spec, "*") {
			w := int(atoi(next()))
			spec = strings.Replace(spec, "*", strconv.Itoa(w), 1)
		}

		switch verb {
		case '%':
			sb.WriteByte('%')
		case 's':
			fmt.Fprintf(&sb, spec, next())
		case 'b':
			s, escStop := interpretBackslashes(next())
			sb.WriteString(s)
			if escStop {
				return sb.String(), ai, true, nil
			}
		case 'c':
			s := next()
			if len(s) > 0 {
				sb.WriteByte(s[0])
			}
		case 'd', 'i':
			n, _ := strconv.ParseInt(strings.TrimSpace(next()), 0, 64)
			fmt.Fprintf(&sb, spec[:len(spec)-1]+"d", n)
		case 'o', 'x', 'X', 'u':
			n, _ := strconv.ParseInt(strings.TrimSpace(next()), 0, 64)
			v := verb
			if v == 'u' {
				v = 'd'
			}
			fmt.Fprintf(&sb, spec[:len(spec)-1]+string(v), n)
		default:
			sb.WriteString(spec)
		}
	}
	return sb.String(), ai, false, nil
}
