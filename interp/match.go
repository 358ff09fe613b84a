// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"regexp"

	"zigsh.dev/zigsh/pattern"
)

// matchPattern reports whether name matches the shell glob pattern pat
// in its entirety, as used by `case` and by the `test` command's
// pattern-aware operators.
func matchPattern(pat, name string) bool {
	expr, err := pattern.Regexp(pat, pattern.EntireString)
	if err != nil {
		return false
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return rx.MatchString(name)
}
