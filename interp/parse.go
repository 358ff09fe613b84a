// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"io"

	"zigsh.dev/zigsh/syntax"
)

// parseSource parses a full program for `source`/`eval`, sharing one
// parser construction path so both builtins see the same dialect.
func parseSource(r io.Reader, name string) (*syntax.File, error) {
	p := syntax.NewParser()
	return p.Parse(r, name)
}
