// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import "fmt"

// shellOpts holds the `set -o`-style boolean options named in
// SPEC_FULL.md §4.7. Unlike the teacher's large bash-options table,
// this only carries the POSIX subset the spec actually names.
type shellOpts map[string]bool

// shortOpt maps a `set`/invocation single-letter flag to its long name.
var shortOpt = map[byte]string{
	'e': "errexit",
	'u': "nounset",
	'x': "xtrace",
	'v': "verbose",
	'f': "noglob",
	'C': "noclobber",
}

// longOnly are options only settable via `set -o name`, not a letter.
var longOnly = map[string]bool{
	"pipefail": true,
	"monitor":  true,
}

func setShellOptFlag(r *Runner, c byte, enable bool) error {
	name, ok := shortOpt[c]
	if !ok {
		return fmt.Errorf("set: invalid option: -%c", c)
	}
	r.setOpt(name, enable)
	return nil
}

func setShellOptName(r *Runner, name string, enable bool) error {
	if _, ok := longOnly[name]; !ok {
		if _, ok := optNameToShort(name); !ok {
			return fmt.Errorf("set: invalid option name: %q", name)
		}
	}
	r.setOpt(name, enable)
	return nil
}

func optNameToShort(name string) (byte, bool) {
	for c, n := range shortOpt {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// ShellOpt sets a `set -o`-style option before the Runner's first
// command runs, for callers (like cmd/zigsh) translating invocation
// flags such as -e/-u/-x into the Runner's initial state.
func ShellOpt(name string, enable bool) RunnerOption {
	return func(r *Runner) error {
		r.setOpt(name, enable)
		return nil
	}
}

func (r *Runner) setOpt(name string, enable bool) {
	if r.opts == nil {
		r.opts = make(shellOpts)
	}
	r.opts[name] = enable
	if name == "noglob" && r.ecfg != nil {
		r.ecfg.NoGlob = enable
	}
}

func (r *Runner) optString() string {
	s := ""
	for c, name := range shortOpt {
		if r.opts[name] {
			s += string(c)
		}
	}
	return s
}

// flagParser walks a `set`/invocation-style argument list: leading
// "-xyz"/"+xyz" flag groups (possibly several), an optional "--"
// terminator, then positional arguments.
type flagParser struct {
	remaining []string
	i         int
}

func (p *flagParser) more() bool {
	if p.i >= len(p.remaining) {
		return false
	}
	s := p.remaining[p.i]
	return len(s) > 1 && (s[0] == '-' || s[0] == '+')
}

func (p *flagParser) flag() string {
	s := p.remaining[p.i]
	p.i++
	if s == "--" {
		return ""
	}
	return s
}

func (p *flagParser) args() []string {
	return p.remaining[p.i:]
}
