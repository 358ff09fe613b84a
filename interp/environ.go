// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"os"
	"strconv"
	"strings"

	"zigsh.dev/zigsh/expand"
	"zigsh.dev/zigsh/syntax"
)

// overlayEnviron is a copy-on-write scope: writes land in values, reads
// fall through to parent when the name isn't present locally. A chain
// of overlays backs subshells, function calls, and command
// substitutions, each of which must see the parent's variables but
// never leak its own writes upward.
type overlayEnviron struct {
	parent expand.Environ
	values map[string]expand.Variable
	// deleted tracks names unset in this scope so Each does not fall
	// through to a parent's now-stale value.
	deleted map[string]bool
}

var _ expand.WriteEnviron = (*overlayEnviron)(nil)

func (o *overlayEnviron) Get(name string) expand.Variable {
	if vr, ok := o.values[name]; ok {
		return vr
	}
	if o.deleted[name] {
		return expand.Variable{}
	}
	if o.parent == nil {
		return expand.Variable{}
	}
	return o.parent.Get(name)
}

func (o *overlayEnviron) Set(name string, vr expand.Variable) error {
	if o.values == nil {
		o.values = make(map[string]expand.Variable)
	}
	if !vr.IsSet() {
		delete(o.values, name)
		if o.deleted == nil {
			o.deleted = make(map[string]bool)
		}
		o.deleted[name] = true
		return nil
	}
	delete(o.deleted, name)
	o.values[name] = vr
	return nil
}

func (o *overlayEnviron) SetString(name, val string, exported bool) {
	o.Set(name, expand.Variable{Set: true, Exported: exported, Kind: expand.String, Str: val})
}

func (o *overlayEnviron) Each(fn func(name string, vr expand.Variable) bool) {
	seen := make(map[string]bool, len(o.values))
	for name, vr := range o.values {
		seen[name] = true
		if !fn(name, vr) {
			return
		}
	}
	if o.parent == nil {
		return
	}
	o.parent.Each(func(name string, vr expand.Variable) bool {
		if seen[name] || o.deleted[name] {
			return true
		}
		return fn(name, vr)
	})
}

// execEnv builds the "name=value" envp slice for fork/exec: every
// exported variable, in the order Each yields them.
func execEnv(env expand.Environ) []string {
	var list []string
	env.Each(func(name string, vr expand.Variable) bool {
		if vr.Exported {
			list = append(list, name+"="+vr.String())
		}
		return true
	})
	return list
}

// lookupVar resolves a variable name against special parameters first
// (those expand.Config.specialVar also knows, kept in sync here since
// the executor needs the same values for e.g. `unset`/`readonly`
// diagnostics), then the overlay scope chain.
func (r *Runner) lookupVar(name string) expand.Variable {
	switch name {
	case "?":
		return expand.Variable{Set: true, Kind: expand.String, Str: strconv.Itoa(r.lastExit)}
	case "$":
		return expand.Variable{Set: true, Kind: expand.String, Str: strconv.Itoa(os.Getpid())}
	case "#":
		return expand.Variable{Set: true, Kind: expand.String, Str: strconv.Itoa(len(r.Params))}
	case "@", "*":
		return expand.Variable{Set: true, Kind: expand.Indexed, List: r.Params}
	case "0":
		return expand.Variable{Set: true, Kind: expand.String, Str: r.Name0}
	case "!":
		return expand.Variable{Set: true, Kind: expand.String, Str: strconv.Itoa(r.jobs.lastBgPid)}
	case "-":
		return expand.Variable{Set: true, Kind: expand.String, Str: r.optString()}
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n >= 1 && n <= len(r.Params) {
			return expand.Variable{Set: true, Kind: expand.String, Str: r.Params[n-1]}
		}
		return expand.Variable{}
	}
	return r.writeEnv.Get(name)
}

// setVar assigns name, refusing to overwrite a readonly variable. It
// reports whether the assignment was made; false means name is readonly
// and was left unchanged.
func (r *Runner) setVar(name string, vr expand.Variable) bool {
	prev := r.lookupVar(name)
	if prev.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		return false
	}
	if name == "IFS" || name == "PATH" {
		// invalidate the hash cache: a new PATH invalidates every
		// cached lookup outright, IFS doesn't but costs nothing to
		// leave alone; kept together since both are "environment
		// shape" changes worth a comment.
		if name == "PATH" {
			r.hash = make(map[string]string)
		}
	}
	r.writeEnv.Set(name, vr)
	return true
}

func (r *Runner) setVarString(name, val string) bool {
	return r.setVar(name, expand.Variable{Set: true, Exported: r.lookupVar(name).Exported, Kind: expand.String, Str: val})
}

func (r *Runner) unsetVar(name string) bool {
	prev := r.lookupVar(name)
	if prev.ReadOnly {
		r.errf("%s: readonly variable\n", name)
		return false
	}
	r.writeEnv.Set(name, expand.Variable{})
	return true
}

// assignVal expands an Assign's right-hand side against an optional
// append to the variable's previous value.
func (r *Runner) assignVal(prev expand.Variable, as *syntax.Assign) string {
	if as.Value == nil {
		return ""
	}
	s := r.literal(as.Value)
	if as.Append && prev.IsSet() {
		return prev.String() + s
	}
	return s
}

// namesByPrefix lists variable names with the given prefix, used by the
// listing forms of export, local and declare.
func (r *Runner) namesByPrefix(prefix string) []string {
	var names []string
	r.writeEnv.Each(func(name string, vr expand.Variable) bool {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return true
	})
	return names
}
