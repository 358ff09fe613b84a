// Copyright (c) 2026, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"zigsh.dev/zigsh/syntax"
)

func parse(t *testing.T, src string) *syntax.File {
	t.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader(src), "")
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return f
}

func runScript(t *testing.T, src string) (stdout, stderr string, exit uint8) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	r, err := New(StdIO(strings.NewReader(""), &outBuf, &errBuf))
	if err != nil {
		t.Fatal(err)
	}
	f := parse(t, src)
	err = r.Run(context.Background(), f)
	if err != nil {
		if code, ok := IsExitStatus(err); ok {
			exit = code
		} else {
			t.Fatalf("run %q: %v", src, err)
		}
	}
	return outBuf.String(), errBuf.String(), exit
}

func TestSimpleCommand(t *testing.T) {
	t.Parallel()
	out, _, exit := runScript(t, "echo hello world")
	if out != "hello world\n" {
		t.Errorf("got stdout %q", out)
	}
	if exit != 0 {
		t.Errorf("got exit %d", exit)
	}
}

func TestAssignmentAndExpansion(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, "foo=bar; echo $foo${foo}baz")
	if out != "barbarbaz\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestIfElse(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `if true; then echo yes; else echo no; fi`)
	if out != "yes\n" {
		t.Errorf("got stdout %q", out)
	}
	out, _, _ = runScript(t, `if false; then echo yes; else echo no; fi`)
	if out != "no\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestForLoop(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `for i in a b c; do echo $i; done`)
	if out != "a\nb\nc\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestWhileBreakContinue(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `
		i=0
		while true; do
			i=$((i+1))
			if [ $i -eq 2 ]; then continue; fi
			if [ $i -gt 3 ]; then break; fi
			echo $i
		done
	`)
	if out != "1\n3\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestFunctionCall(t *testing.T) {
	t.Parallel()
	out, _, exit := runScript(t, `
		greet() {
			echo "hi $1"
			return 3
		}
		greet world
	`)
	if out != "hi world\n" {
		t.Errorf("got stdout %q", out)
	}
	if exit != 3 {
		t.Errorf("got exit %d", exit)
	}
}

func TestPipeline(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `printf 'b\na\nc\n' | sort`)
	if out != "a\nb\nc\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestAndOrShortCircuit(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `false && echo no; true || echo no; true && echo yes; false || echo yes`)
	if out != "yes\nyes\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestCaseClause(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `
		for x in apple banana cherry; do
			case $x in
			apple) echo fruit1 ;;
			banana) echo fruit2 ;;
			*) echo other ;;
			esac
		done
	`)
	if out != "fruit1\nfruit2\nother\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestSubshellIsolatesVars(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `x=outer; (x=inner; echo $x); echo $x`)
	if out != "inner\nouter\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestRedirection(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `
		tmp=$(mktemp)
		echo hi > "$tmp"
		cat < "$tmp"
		rm "$tmp"
	`)
	if out != "hi\n" {
		t.Errorf("got stdout %q", out)
	}
}

func TestPrintf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, script, want string
	}{
		{"PercentB", `printf '%b\n' 'a\tb'`, "a\tb\n"},
		{"DynamicWidth", `printf '%*d\n' 5 3`, "    3\n"},
		{"HexAndOctalEscapes", `printf '\x41\101\n'`, "AA\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, _, _ := runScript(t, tc.script)
			if out != tc.want {
				t.Errorf("got stdout %q, want %q", out, tc.want)
			}
		})
	}
}

func TestReadFieldSplitting(t *testing.T) {
	t.Parallel()
	var outBuf, errBuf bytes.Buffer
	r, err := New(StdIO(strings.NewReader("one:two:three\n"), &outBuf, &errBuf))
	if err != nil {
		t.Fatal(err)
	}
	f := parse(t, `IFS=: read a b c; echo "$a,$b,$c"`)
	if err := r.Run(context.Background(), f); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := outBuf.String(); got != "one,two,three\n" {
		t.Errorf("got stdout %q, want %q", got, "one,two,three\n")
	}
}

func TestReadLastNameAbsorbsRemainder(t *testing.T) {
	t.Parallel()
	var outBuf, errBuf bytes.Buffer
	r, err := New(StdIO(strings.NewReader("one:two:three:four\n"), &outBuf, &errBuf))
	if err != nil {
		t.Fatal(err)
	}
	f := parse(t, `IFS=: read a b; echo "$a|$b"`)
	if err := r.Run(context.Background(), f); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := outBuf.String(); got != "one|two:three:four\n" {
		t.Errorf("got stdout %q, want %q", got, "one|two:three:four\n")
	}
}

func TestLocalAssignmentExportedOnlyForCommand(t *testing.T) {
	t.Parallel()
	out, _, _ := runScript(t, `
		foo=bar env | grep -c ^foo= | tr -d '\n'
		echo
		echo "${foo:-unset}"
	`)
	if out != "1\nunset\n" {
		t.Errorf("got stdout %q", out)
	}
}
