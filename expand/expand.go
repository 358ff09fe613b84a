// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package expand implements the word-expansion pipeline: parameter,
// command, and arithmetic substitution, field splitting, tilde
// expansion, and pathname (glob) expansion.
package expand

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"zigsh.dev/zigsh/pattern"
	"zigsh.dev/zigsh/syntax"
)

// Config carries everything the expansion pipeline needs from the
// surrounding interpreter: the variable environment, the positional
// parameters, and a hook back into command execution for $(...) and
// `...` substitutions, which expand cannot perform on its own.
type Config struct {
	Env WriteEnviron

	// Params holds $1, $2, ... and is used for $@, $*, and $#.
	Params []string
	// Name0 is $0, normally the shell or script name.
	Name0 string
	// LastExit is $?, the exit status of the previous command.
	LastExit int
	// Pid is $$, the shell's process ID.
	Pid int

	// NoGlob disables pathname expansion, as with set -f.
	NoGlob bool

	// CmdSubst runs the statements of a command substitution with
	// output captured into w. It is filled in by the interpreter,
	// since expand has no notion of command execution.
	CmdSubst func(w io.Writer, stmts []*syntax.Stmt) error

	ifs string
}

func (cfg *Config) prepareIFS() {
	vr := cfg.Env.Get("IFS")
	if !vr.IsSet() {
		cfg.ifs = " \t\n"
	} else {
		cfg.ifs = vr.String()
	}
}

func (cfg *Config) ifsRune(r rune) bool {
	for _, r2 := range cfg.ifs {
		if r == r2 {
			return true
		}
	}
	return false
}

// quoteLevel tracks whether a word part was produced inside quotes, so
// that field splitting and globbing can be suppressed for it later.
type quoteLevel uint

const (
	quoteNone quoteLevel = iota
	quoteDouble
	quoteSingle
)

type fieldPart struct {
	val   string
	quote quoteLevel
}

// Literal expands word without performing field splitting or pathname
// expansion, as used for the right-hand side of assignments, case
// patterns' scrutinee, and parameter-expansion arguments.
func (cfg *Config) Literal(word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg.prepareIFS()
	field, err := cfg.wordField(word.Parts)
	if err != nil {
		return "", err
	}
	return joinField(field), nil
}

// Pattern expands word for use as a glob or case pattern: like Literal,
// but quoted runs are pattern-escaped so they can only match literally.
func (cfg *Config) Pattern(word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}
	cfg.prepareIFS()
	field, err := cfg.wordField(word.Parts)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range field {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
		} else {
			sb.WriteString(part.val)
		}
	}
	return sb.String(), nil
}

// Fields expands a list of words into the final argument list of a
// simple command: performing parameter/command/arithmetic substitution
// per word, splitting the unquoted results on IFS, and then applying
// pathname expansion to any field that contained an unquoted glob
// metacharacter.
func (cfg *Config) Fields(words ...*syntax.Word) ([]string, error) {
	cfg.prepareIFS()

	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}

	var fields []string
	for _, word := range words {
		wfields, err := cfg.wordFields(word.Parts)
		if err != nil {
			return nil, err
		}
		for _, field := range wfields {
			path, doGlob := escapedGlobField(field)
			var matches []string
			if doGlob && !cfg.NoGlob {
				abs := filepath.IsAbs(path)
				full := path
				if !abs {
					full = filepath.Join(dir, path)
				}
				matches = globPath(full)
				if !abs {
					for i, m := range matches {
						if rel, err := filepath.Rel(dir, m); err == nil {
							matches[i] = rel
						}
					}
				}
			}
			if len(matches) == 0 {
				fields = append(fields, joinField(field))
				continue
			}
			sort.Strings(matches)
			fields = append(fields, matches...)
		}
	}
	return fields, nil
}

// ReadFields splits s into at most n fields along IFS boundaries, the
// way the `read` builtin assigns a line across multiple variable names:
// the last field absorbs any remainder, exactly like the positional
// parameters in "$*"-style joining. With raw set (read -r), a trailing
// backslash does not escape the IFS character that follows it.
func (cfg *Config) ReadFields(s string, n int, raw bool) []string {
	cfg.prepareIFS()
	type pos struct{ start, end int }
	var fpos []pos

	runes := make([]rune, 0, len(s))
	infield := false
	esc := false
	for _, r := range s {
		if infield {
			if cfg.ifsRune(r) && (raw || !esc) {
				fpos[len(fpos)-1].end = len(runes)
				infield = false
			}
		} else {
			if !cfg.ifsRune(r) && (raw || !esc) {
				fpos = append(fpos, pos{start: len(runes), end: -1})
				infield = true
			}
		}
		if r == '\\' {
			if raw || esc {
				runes = append(runes, r)
			}
			esc = !esc
			continue
		}
		runes = append(runes, r)
		esc = false
	}
	if len(fpos) == 0 {
		return nil
	}
	if infield {
		fpos[len(fpos)-1].end = len(runes)
	}

	switch {
	case n == 1:
		fpos[0].start, fpos[0].end = 0, len(runes)
		fpos = fpos[:1]
	case n != -1 && n < len(fpos):
		fpos[n-1].end = fpos[len(fpos)-1].end
		fpos = fpos[:n]
	}

	fields := make([]string, len(fpos))
	for i, p := range fpos {
		fields[i] = string(runes[p.start:p.end])
	}
	return fields
}

func joinField(field []fieldPart) string {
	if len(field) == 1 {
		return field[0].val
	}
	var sb strings.Builder
	for _, part := range field {
		sb.WriteString(part.val)
	}
	return sb.String()
}

// escapedGlobField concatenates a field's parts into a single string,
// pattern-escaping quoted runs so that only the unquoted runs can act
// as glob metacharacters. It reports whether the result still has any
// live metacharacter left to expand.
func escapedGlobField(field []fieldPart) (escaped string, glob bool) {
	var sb strings.Builder
	for _, part := range field {
		if part.quote > quoteNone {
			sb.WriteString(pattern.QuoteMeta(part.val))
			continue
		}
		sb.WriteString(part.val)
		if pattern.HasMeta(part.val) {
			glob = true
		}
	}
	if !glob {
		return "", false
	}
	return sb.String(), true
}

// wordField expands wps without field splitting, used for contexts
// where the result stays a single field (assignment values, case
// scrutinees, parameter-expansion arguments).
func (cfg *Config) wordField(wps []syntax.WordPart) ([]fieldPart, error) {
	var field []fieldPart
	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			field = append(field, fieldPart{val: x.Value})
		case *syntax.ExtTilde:
			if i == 0 {
				field = append(field, fieldPart{val: cfg.expandTilde(x)})
			}
		case *syntax.SglQuoted:
			field = append(field, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			inner, err := cfg.wordField(x.Parts)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				field = append(field, part)
			}
		case *syntax.ParamExp:
			if x.Exp == nil && !x.Length && (x.Param.Value == "@" || x.Param.Value == "*") {
				field = append(field, fieldPart{val: cfg.joinParams()})
				continue
			}
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		case *syntax.ArithmExp:
			val, err := cfg.arithmExp(x)
			if err != nil {
				return nil, err
			}
			field = append(field, fieldPart{val: val})
		default:
			return nil, fmt.Errorf("expand: unhandled word part %T", x)
		}
	}
	return field, nil
}

// wordFields is like wordField but splits unquoted substitution output
// on IFS, producing potentially many fields from a single word.
func (cfg *Config) wordFields(wps []syntax.WordPart) ([][]fieldPart, error) {
	var fields [][]fieldPart
	var cur []fieldPart
	allowEmpty := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		fields = append(fields, cur)
		cur = nil
	}
	splitAdd := func(val string) {
		parts := strings.FieldsFunc(val, cfg.ifsRune)
		for i, s := range parts {
			if i > 0 {
				flush()
			}
			cur = append(cur, fieldPart{val: s})
		}
	}

	for i, wp := range wps {
		switch x := wp.(type) {
		case *syntax.Lit:
			cur = append(cur, fieldPart{val: x.Value})
		case *syntax.ExtTilde:
			if i == 0 {
				cur = append(cur, fieldPart{val: cfg.expandTilde(x)})
			}
		case *syntax.SglQuoted:
			allowEmpty = true
			cur = append(cur, fieldPart{quote: quoteSingle, val: x.Value})
		case *syntax.DblQuoted:
			allowEmpty = true
			if len(x.Parts) == 1 {
				if pe, ok := x.Parts[0].(*syntax.ParamExp); ok && pe.Exp == nil && !pe.Length {
					if pe.Param.Value == "@" {
						for i, s := range cfg.Params {
							if i > 0 {
								flush()
							}
							cur = append(cur, fieldPart{quote: quoteDouble, val: s})
						}
						continue
					}
					if pe.Param.Value == "*" {
						cur = append(cur, fieldPart{quote: quoteDouble, val: cfg.joinParams()})
						continue
					}
				}
			}
			inner, err := cfg.wordField(x.Parts)
			if err != nil {
				return nil, err
			}
			for _, part := range inner {
				part.quote = quoteDouble
				cur = append(cur, part)
			}
		case *syntax.ParamExp:
			if x.Exp == nil && !x.Length && x.Param.Value == "@" {
				for i, s := range cfg.Params {
					if i > 0 {
						flush()
					}
					cur = append(cur, fieldPart{quote: quoteDouble, val: s})
				}
				continue
			}
			if x.Exp == nil && !x.Length && x.Param.Value == "*" {
				splitAdd(cfg.joinParams())
				continue
			}
			val, err := cfg.paramExp(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.CmdSubst:
			val, err := cfg.cmdSubst(x)
			if err != nil {
				return nil, err
			}
			splitAdd(val)
		case *syntax.ArithmExp:
			val, err := cfg.arithmExp(x)
			if err != nil {
				return nil, err
			}
			cur = append(cur, fieldPart{val: val})
		default:
			return nil, fmt.Errorf("expand: unhandled word part %T", x)
		}
	}
	flush()
	if allowEmpty && len(fields) == 0 {
		fields = append(fields, cur)
	}
	return fields, nil
}

// joinParams joins the positional parameters with the first character
// of IFS, as "$*" does inside double quotes.
func (cfg *Config) joinParams() string {
	sep := ""
	if cfg.ifs != "" {
		sep = cfg.ifs[:1]
	}
	return strings.Join(cfg.Params, sep)
}

func (cfg *Config) cmdSubst(cs *syntax.CmdSubst) (string, error) {
	if cfg.CmdSubst == nil {
		return "", fmt.Errorf("expand: command substitution not supported in this context")
	}
	var buf strings.Builder
	if err := cfg.CmdSubst(&buf, cs.Stmts); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func (cfg *Config) arithmExp(a *syntax.ArithmExp) (string, error) {
	expr, err := cfg.Literal(a.X)
	if err != nil {
		return "", err
	}
	val, err := cfg.Arithm(expr)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(val, 10), nil
}

// expandTilde resolves a leading ~ or ~user word part to a home
// directory. A lookup failure leaves the tilde prefix untouched,
// matching how an unknown user name simply fails to expand.
func (cfg *Config) expandTilde(t *syntax.ExtTilde) string {
	if t.User == "" {
		if home := cfg.Env.Get("HOME"); home.IsSet() {
			return home.String()
		}
		if u, err := user.Current(); err == nil {
			return u.HomeDir
		}
		return "~"
	}
	u, err := user.Lookup(t.User)
	if err != nil {
		return "~" + t.User
	}
	return u.HomeDir
}

// globPath expands a single path pattern by walking the filesystem one
// path element at a time, matching each element's pattern against the
// directory's contents. pat is expected to already be an absolute (or
// cwd-joined) path.
func globPath(pat string) []string {
	sep := string(filepath.Separator)
	parts := strings.Split(pat, sep)
	matches := []string{sep}
	start := 0
	if len(parts) > 0 && parts[0] == "" {
		start = 1
	} else {
		matches = []string{"."}
	}
	for _, part := range parts[start:] {
		if part == "" {
			continue
		}
		expr, err := pattern.Regexp(part, pattern.Filenames)
		if err != nil {
			return nil
		}
		rx, err := regexp.Compile("^" + expr + "$")
		if err != nil {
			return nil
		}
		var next []string
		for _, dir := range matches {
			next = globDir(dir, rx, next)
		}
		matches = next
	}
	return matches
}

func globDir(dir string, rx *regexp.Regexp, matches []string) []string {
	d, err := os.Open(dir)
	if err != nil {
		return matches
	}
	defer d.Close()
	names, _ := d.Readdirnames(-1)
	sort.Strings(names)
	matchesDot := strings.HasPrefix(rx.String(), `^\.`)
	for _, name := range names {
		if name[0] == '.' && !matchesDot {
			continue
		}
		if rx.MatchString(name) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	return matches
}
