// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"strings"

	"zigsh.dev/zigsh/syntax"
)

// trace prints a `set -x`-style "+ cmd args..." line to stderr before a
// command runs. It renders just enough of the command to be useful —
// the literal, already-expanded argument words of a simple command —
// rather than depending on a full AST unparser.
func (r *Runner) trace(cm syntax.Command) {
	ce, ok := cm.(*syntax.CallExpr)
	if !ok {
		return
	}
	var sb strings.Builder
	sb.WriteString("+")
	for _, as := range ce.Assigns {
		sb.WriteString(" ")
		sb.WriteString(as.Name.Value)
		sb.WriteString("=")
		if as.Value != nil {
			sb.WriteString(syntax.Quote(r.literal(as.Value)))
		}
	}
	for _, w := range ce.Args {
		sb.WriteString(" ")
		sb.WriteString(syntax.Quote(r.literal(w)))
	}
	r.errf("%s\n", sb.String())
}
