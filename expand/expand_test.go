// Copyright (c) 2018, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package expand

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"zigsh.dev/zigsh/syntax"
)

// testEnviron is a minimal mutable WriteEnviron for exercising Config,
// which needs write access for assignment operators and ++/--. The
// real overlay environment lives in the interp package; this is just
// enough to drive the expansion pipeline in isolation.
type testEnviron map[string]Variable

func newTestEnviron(pairs ...string) testEnviron {
	env := testEnviron{}
	for _, pair := range pairs {
		name, val, _ := strings.Cut(pair, "=")
		env[name] = Variable{Set: true, Exported: true, Kind: String, Str: val}
	}
	return env
}

func (e testEnviron) Get(name string) Variable { return e[name] }
func (e testEnviron) Each(fn func(string, Variable) bool) {
	for name, vr := range e {
		if !fn(name, vr) {
			return
		}
	}
}
func (e testEnviron) Set(name string, vr Variable) error {
	e[name] = vr
	return nil
}

// parseWord parses src as the sole argument of a dummy command and
// returns its Word, which is the unit the expansion pipeline operates
// on; the syntax package has no standalone word-parsing entry point.
func parseWord(t *testing.T, src string) *syntax.Word {
	t.Helper()
	file, err := syntax.NewParser().Parse(strings.NewReader("set -- "+src), "")
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	call := file.Stmts[0].Cmd.(*syntax.CallExpr)
	return call.Args[len(call.Args)-1]
}

func TestConfigLiteral(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		src  string
		want string
	}{
		{
			"PlainLiteral",
			&Config{Env: newTestEnviron()},
			"foo",
			"foo",
		},
		{
			"UnsetVar",
			&Config{Env: newTestEnviron()},
			"$MISSING",
			"",
		},
		{
			"SetVar",
			&Config{Env: newTestEnviron("FOO=bar")},
			"$FOO",
			"bar",
		},
		{
			"DefaultUnset",
			&Config{Env: newTestEnviron()},
			"${FOO:-dflt}",
			"dflt",
		},
		{
			"DefaultSet",
			&Config{Env: newTestEnviron("FOO=bar")},
			"${FOO:-dflt}",
			"bar",
		},
		{
			"Length",
			&Config{Env: newTestEnviron("FOO=hello")},
			"${#FOO}",
			"5",
		},
		{
			"RemoveSuffix",
			&Config{Env: newTestEnviron("FOO=file.txt")},
			"${FOO%.txt}",
			"file",
		},
		{
			"RemovePrefix",
			&Config{Env: newTestEnviron("FOO=/a/b/c")},
			"${FOO##*/}",
			"c",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			word := parseWord(t, tc.src)
			got, err := tc.cfg.Literal(word)
			if err != nil {
				t.Fatalf("did not want error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("wanted %q, got %q", tc.want, got)
			}
		})
	}
}

func TestConfigArithm(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"1+2", 3},
		{"2*(3+4)", 14},
		{"10/3", 3},
		{"10%3", 1},
		{"2**10", 1024},
		{"1==1", 1},
		{"1==2", 0},
		{"x=5, x+1", 6},
	}
	for _, tc := range tests {
		t.Run(tc.src, func(t *testing.T) {
			cfg := &Config{Env: newTestEnviron()}
			got, err := cfg.Arithm(tc.src)
			if err != nil {
				t.Fatalf("did not want error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("wanted %d, got %d", tc.want, got)
			}
		})
	}
}

func TestConfigFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		src  string
		want []string
	}{
		{
			"SingleWord",
			&Config{Env: newTestEnviron()},
			"foo",
			[]string{"foo"},
		},
		{
			"FieldSplitting",
			&Config{Env: newTestEnviron("FOO=a b c")},
			"$FOO",
			[]string{"a", "b", "c"},
		},
		{
			"QuotedNoSplit",
			&Config{Env: newTestEnviron("FOO=a b c")},
			`"$FOO"`,
			[]string{"a b c"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			word := parseWord(t, tc.src)
			got, err := tc.cfg.Fields(word)
			if err != nil {
				t.Fatalf("did not want error, got %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
