// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"fmt"
	"regexp"
	"strconv"
	"unicode/utf8"

	"zigsh.dev/zigsh/pattern"
	"zigsh.dev/zigsh/syntax"
)

// UnsetParameterError is returned when a ${name?msg} or ${name:?msg}
// expansion hits an unset (or null, for the colon form) parameter.
type UnsetParameterError struct {
	Param   *syntax.ParamExp
	Message string
}

func (u UnsetParameterError) Error() string {
	if u.Message != "" {
		return u.Message
	}
	return u.Param.Param.Value + ": parameter not set"
}

// paramExp expands a single parameter expansion to its string value,
// applying whichever ${name<op>word} operator is attached.
func (cfg *Config) paramExp(pe *syntax.ParamExp) (string, error) {
	name := pe.Param.Value
	vr := cfg.specialVar(name)
	if pe.Excl {
		// ${!name} indirection: name's value names the variable to
		// actually look up, e.g. `x=y; y=2; echo ${!x}` prints 2.
		vr = cfg.specialVar(vr.String())
	}
	set := vr.IsSet() || vr.Declared()
	str := vr.String()

	if pe.Length {
		return strconv.Itoa(len([]rune(str))), nil
	}

	if pe.Exp == nil {
		return str, nil
	}

	arg, err := cfg.Literal(pe.Exp.Word)
	if err != nil {
		return "", err
	}

	switch pe.Exp.Op {
	case syntax.AlternateUnset:
		if set {
			return arg, nil
		}
		return "", nil
	case syntax.AlternateUnsetOrNull:
		if set && str != "" {
			return arg, nil
		}
		return "", nil
	case syntax.DefaultUnset:
		if !set {
			return arg, nil
		}
		return str, nil
	case syntax.DefaultUnsetOrNull:
		if !set || str == "" {
			return arg, nil
		}
		return str, nil
	case syntax.ErrorUnset:
		if !set {
			return "", UnsetParameterError{Param: pe, Message: arg}
		}
		return str, nil
	case syntax.ErrorUnsetOrNull:
		if !set || str == "" {
			return "", UnsetParameterError{Param: pe, Message: arg}
		}
		return str, nil
	case syntax.AssignUnset:
		if !set {
			if err := cfg.Env.Set(name, Variable{Set: true, Kind: String, Str: arg}); err != nil {
				return "", err
			}
			return arg, nil
		}
		return str, nil
	case syntax.AssignUnsetOrNull:
		if !set || str == "" {
			if err := cfg.Env.Set(name, Variable{Set: true, Kind: String, Str: arg}); err != nil {
				return "", err
			}
			return arg, nil
		}
		return str, nil
	case syntax.RemSmallPrefix, syntax.RemLargePrefix,
		syntax.RemSmallSuffix, syntax.RemLargeSuffix:
		return removePattern(str, arg, pe.Exp.Op)
	}
	return "", fmt.Errorf("unhandled parameter expansion operator")
}

// specialVar resolves the handful of parameters the Environ interface
// cannot satisfy on its own: positional parameters and shell status.
func (cfg *Config) specialVar(name string) Variable {
	switch name {
	case "?":
		return Variable{Set: true, Kind: String, Str: strconv.Itoa(cfg.LastExit)}
	case "$":
		return Variable{Set: true, Kind: String, Str: strconv.Itoa(cfg.Pid)}
	case "#":
		return Variable{Set: true, Kind: String, Str: strconv.Itoa(len(cfg.Params))}
	case "@", "*":
		return Variable{Set: true, Kind: Indexed, List: cfg.Params}
	case "0":
		return Variable{Set: true, Kind: String, Str: cfg.Name0}
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n >= 1 && n <= len(cfg.Params) {
			return Variable{Set: true, Kind: String, Str: cfg.Params[n-1]}
		}
		return Variable{}
	}
	return cfg.Env.Get(name)
}

// removePattern implements the ##, #, %%, % family: strip the
// shortest/longest prefix or suffix of str matching pat.
func removePattern(str, pat string, op syntax.ExpOperator) (string, error) {
	suffix := op == syntax.RemSmallSuffix || op == syntax.RemLargeSuffix
	greedy := op == syntax.RemLargePrefix || op == syntax.RemLargeSuffix

	mode := pattern.Mode(0)
	if !greedy {
		mode |= pattern.Shortest
	}
	expr, err := pattern.Regexp(pat, mode)
	if err != nil {
		return str, nil
	}
	if op == syntax.RemSmallSuffix {
		expr = "^(" + expr + ")$"
	} else if suffix {
		expr = "(" + expr + ")$"
	} else {
		expr = "^(" + expr + ")"
	}
	rx, err := regexp.Compile(expr)
	if err != nil {
		return str, nil
	}
	if op == syntax.RemSmallSuffix {
		for i := len(str); i >= 0; i-- {
			if i < len(str) && !utf8.RuneStart(str[i]) {
				continue
			}
			if rx.MatchString(str[i:]) {
				return str[:i], nil
			}
		}
		return str, nil
	}
	if loc := rx.FindStringIndex(str); loc != nil {
		return str[:loc[0]] + str[loc[1]:], nil
	}
	return str, nil
}
