// Copyright (c) 2017, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package interp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"zigsh.dev/zigsh/expand"
	"zigsh.dev/zigsh/syntax"
)

// expandEnv exposes the Runner's variables to the expand package,
// reusing lookupVar/setVar so the special parameters ($?, $!, $-, ...)
// stay in one place.
type expandEnv struct{ r *Runner }

var _ expand.WriteEnviron = expandEnv{}

func (e expandEnv) Get(name string) expand.Variable { return e.r.lookupVar(name) }
func (e expandEnv) Set(name string, vr expand.Variable) error {
	e.r.setVar(name, vr)
	return nil
}
func (e expandEnv) Each(fn func(name string, vr expand.Variable) bool) { e.r.writeEnv.Each(fn) }

func (r *Runner) fillExpandConfig(ctx context.Context) {
	r.ectx = ctx
	r.ecfg = &expand.Config{
		Env:      expandEnv{r},
		Params:   r.Params,
		Name0:    r.Name0,
		LastExit: r.lastExit,
		Pid:      os.Getpid(),
		NoGlob:   r.opts["noglob"],
		CmdSubst: func(w io.Writer, stmts []*syntax.Stmt) error {
			if path, ok := r.readFileSubst(stmts); ok {
				f, err := r.openHandler(r.handlerCtx(ctx, nil), path, os.O_RDONLY, 0)
				if err != nil {
					return err
				}
				defer f.Close()
				_, err = io.Copy(w, f)
				return err
			}
			r2 := r.subshell()
			r2.stdout = w
			r2.stmts(ctx, stmts)
			if r2.flow == flowExit {
				r.lastExit = r2.lastExit
			}
			return nil
		},
	}
}

// readFileSubst recognizes the `$(<file)` shorthand: a command
// substitution whose body is nothing but a lone input redirection.
// Real shells special-case this to a plain read, skipping the fork a
// full subshell would otherwise cost.
func (r *Runner) readFileSubst(stmts []*syntax.Stmt) (string, bool) {
	if len(stmts) != 1 {
		return "", false
	}
	st := stmts[0]
	if st.Cmd != nil || len(st.Redirs) != 1 {
		return "", false
	}
	rd := st.Redirs[0]
	if rd.Op != syntax.LSS {
		return "", false
	}
	return r.literal(rd.Word), true
}

// syncExpandConfig refreshes the fields of ecfg that change between
// every command (Params, LastExit), without rebuilding the CmdSubst
// closure.
func (r *Runner) syncExpandConfig() {
	r.ecfg.Params = r.Params
	r.ecfg.Name0 = r.Name0
	r.ecfg.LastExit = r.lastExit
	r.ecfg.NoGlob = r.opts["noglob"]
}

func (r *Runner) expandErr(err error) bool {
	if err == nil {
		return true
	}
	r.errf("%v\n", err)
	r.lastExit = 1
	return false
}

func (r *Runner) literal(word *syntax.Word) string {
	r.syncExpandConfig()
	s, err := r.ecfg.Literal(word)
	r.expandErr(err)
	return s
}

func (r *Runner) pattern(word *syntax.Word) string {
	r.syncExpandConfig()
	s, err := r.ecfg.Pattern(word)
	r.expandErr(err)
	return s
}

func (r *Runner) fields(words ...*syntax.Word) []string {
	r.syncExpandConfig()
	fs, err := r.ecfg.Fields(words...)
	r.expandErr(err)
	return fs
}

func (r *Runner) arithm(word *syntax.Word) int64 {
	r.syncExpandConfig()
	expr, err := r.ecfg.Literal(word)
	if !r.expandErr(err) {
		return 0
	}
	n, err := r.ecfg.Arithm(expr)
	r.expandErr(err)
	return n
}

// handlerCtx builds the context a handler function receives: a read-only
// overlay snapshot of the variable environment, plus the job-control
// coordinates for the external command this handler call is about to
// start, if any. pgidBox is nil outside of a pipeline stage, in which
// case a fresh one-shot box is used so the command becomes its own
// process group leader.
func (r *Runner) handlerCtx(ctx context.Context, pgidBox *int) context.Context {
	if pgidBox == nil {
		pgidBox = new(int)
	}
	hc := HandlerContext{
		Env:        &overlayEnviron{parent: r.writeEnv},
		Dir:        r.Dir,
		Stdin:      r.stdin,
		Stdout:     r.stdout,
		Stderr:     r.stderr,
		PgidBox:    pgidBox,
		Foreground: r.interactive && r.ttyFd >= 0,
		TTYFd:      r.ttyFd,
		ShellPgid:  r.shellPgid,
	}
	return context.WithValue(ctx, handlerCtxKey{}, hc)
}

func (r *Runner) out(s string)                        { io.WriteString(r.stdout, s) }
func (r *Runner) outf(format string, a ...any)         { fmt.Fprintf(r.stdout, format, a...) }
func (r *Runner) stop(ctx context.Context) bool {
	if !r.inTrap {
		r.checkSignals(ctx)
	}
	if r.flow != flowNormal {
		return true
	}
	return ctx.Err() != nil
}

func (r *Runner) stmts(ctx context.Context, stmts []*syntax.Stmt) {
	for _, st := range stmts {
		r.stmt(ctx, st)
		if r.stop(ctx) {
			return
		}
	}
}

// loopStmtsBroken runs a loop body, consuming one level of break/continue
// when the loop-control flow escapes it, per the "loop-control" design in
// SPEC_FULL.md §9. It reports whether the enclosing loop should stop.
func (r *Runner) loopStmtsBroken(ctx context.Context, stmts []*syntax.Stmt) bool {
	for _, st := range stmts {
		r.stmt(ctx, st)
		switch r.flow {
		case flowBreak:
			r.flowN--
			if r.flowN <= 0 {
				r.flow = flowNormal
			}
			return true
		case flowContinue:
			r.flowN--
			if r.flowN <= 0 {
				r.flow = flowNormal
				return false
			}
			return true
		case flowReturn, flowExit:
			return true
		}
		if ctx.Err() != nil {
			return true
		}
	}
	return false
}

func (r *Runner) stmt(ctx context.Context, st *syntax.Stmt) {
	if r.stop(ctx) {
		return
	}
	if st.Background {
		r.runBackground(ctx, st)
		return
	}
	r.stmtSync(ctx, st)
}

// runBackground launches st in its own subshell scope, goroutine, and
// job-table entry, then returns immediately: `&` never blocks the shell
// that issued it.
func (r *Runner) runBackground(ctx context.Context, st *syntax.Stmt) {
	r2 := r.subshell()
	st2 := *st
	st2.Background = false

	j := r.jobs.add(0, 0, jobText(st))
	pgidBox := &j.pgid
	r2.pgidBox = pgidBox

	go func() {
		r2.stmtSync(ctx, &st2)
		j.status = r2.lastExit
		if j.state != jobStopped {
			j.state = jobDone
		}
	}()
	r.lastExit = 0
}

func jobText(st *syntax.Stmt) string {
	// A full unparse would need syntax.Printer, which this package does
	// not depend on; the job table only needs something recognizable
	// for `jobs`/`wait %text`, so join every word's literal form rather
	// than just the command name.
	if ce, ok := st.Cmd.(*syntax.CallExpr); ok && len(ce.Args) > 0 {
		words := make([]string, len(ce.Args))
		for i, w := range ce.Args {
			words[i] = w.Lit()
		}
		return strings.Join(words, " ")
	}
	return "..."
}

func (r *Runner) stmtSync(ctx context.Context, st *syntax.Stmt) {
	undo, ok := r.applyRedirs(ctx, st)
	defer undo()
	if ok && st.Cmd != nil {
		r.cmd(ctx, st.Cmd)
	} else if !ok {
		r.lastExit = 1
	}
	if st.Negated {
		if r.lastExit == 0 {
			r.lastExit = 1
		} else {
			r.lastExit = 0
		}
	}
	r.checkErrExit(ctx, st)
}

// checkErrExit runs the ERR trap and, if `errexit` is set, marks the
// shell to exit once the current command list unwinds. And/or operands
// and negated/conditional commands are exempted, per SPEC_FULL.md §4.7.
func (r *Runner) checkErrExit(ctx context.Context, st *syntax.Stmt) {
	if r.lastExit == 0 || st.Negated {
		return
	}
	if b, ok := st.Cmd.(*syntax.BinaryCmd); ok && (b.Op == syntax.AndStmt || b.Op == syntax.OrStmt) {
		return
	}
	r.runTrap(ctx, "ERR")
	if r.opts["errexit"] && !r.inCond {
		r.flow = flowExit
	}
}

func (r *Runner) cmd(ctx context.Context, cm syntax.Command) {
	if r.stop(ctx) {
		return
	}
	if r.opts["xtrace"] {
		r.trace(cm)
	}
	switch cm := cm.(type) {
	case *syntax.CallExpr:
		r.callExpr(ctx, cm)
	case *syntax.Block:
		r.stmts(ctx, cm.Stmts)
	case *syntax.Subshell:
		r2 := r.subshell()
		r2.stmts(ctx, cm.Stmts)
		r.lastExit = r2.lastExit
	case *syntax.BinaryCmd:
		r.binaryCmd(ctx, cm)
	case *syntax.IfClause:
		r.ifClause(ctx, cm)
	case *syntax.WhileClause:
		r.whileClause(ctx, cm)
	case *syntax.ForClause:
		r.forClause(ctx, cm)
	case *syntax.CaseClause:
		r.caseClause(ctx, cm)
	case *syntax.FuncDecl:
		r.Funcs[cm.Name.Value] = cm.Body
	case *syntax.ArithmCmd:
		n := r.arithm(cm.X)
		r.lastExit = boolExit(n != 0)
	default:
		panic(fmt.Sprintf("interp: unhandled command node %T", cm))
	}
}

func boolExit(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

func (r *Runner) withCond(f func()) {
	old := r.inCond
	r.inCond = true
	f()
	r.inCond = old
}

func (r *Runner) binaryCmd(ctx context.Context, b *syntax.BinaryCmd) {
	switch b.Op {
	case syntax.AndStmt, syntax.OrStmt:
		r.withCond(func() { r.stmt(ctx, b.X) })
		if r.flow != flowNormal {
			return
		}
		wantOK := b.Op == syntax.AndStmt
		if (r.lastExit == 0) == wantOK {
			r.stmt(ctx, b.Y)
		}
	case syntax.Pipe, syntax.PipeAll:
		r.pipeline(ctx, b)
	default:
		panic(fmt.Sprintf("interp: unhandled binary op %v", b.Op))
	}
}

// pipeline runs a left-to-right chain of Pipe/PipeAll BinaryCmd nodes.
// Since the parser right-nests N-stage pipelines as BinaryCmd{Y: another
// BinaryCmd}, the left stage of the outermost node is always a single
// stage and the right side recurses.
func (r *Runner) pipeline(ctx context.Context, b *syntax.BinaryCmd) {
	pr, pw, err := os.Pipe()
	if err != nil {
		r.errf("pipe: %v\n", err)
		r.lastExit = 1
		return
	}

	var pgidBox int
	if r.pgidBox != nil {
		pgidBox = *r.pgidBox
	}

	left := r.pipeStage()
	left.stdout = pw
	left.pgidBox = &pgidBox
	if b.Op == syntax.PipeAll {
		left.stderr = pw
	}

	right := r.pipeStage()
	right.stdin = pr
	right.pgidBox = &pgidBox

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		left.stmt(ctx, b.X)
		pw.Close()
	}()

	// b.Y is itself a *Stmt; when it wraps a further Pipe/PipeAll
	// BinaryCmd this call recurses through cmd -> binaryCmd -> pipeline,
	// so every stage shares pgidBox via right's value.
	right.stmt(ctx, b.Y)
	pr.Close()
	wg.Wait()

	if r.pgidBox != nil {
		*r.pgidBox = pgidBox
	}
	if r.opts["pipefail"] {
		if right.lastExit == 0 {
			r.lastExit = left.lastExit
		} else {
			r.lastExit = right.lastExit
		}
	} else {
		r.lastExit = right.lastExit
	}
	r.jobs.updateFromWaits()
}

func (r *Runner) ifClause(ctx context.Context, c *syntax.IfClause) {
	r.withCond(func() { r.stmts(ctx, c.Cond) })
	if r.flow != flowNormal {
		return
	}
	if r.lastExit == 0 {
		r.stmts(ctx, c.Then)
		return
	}
	r.lastExit = 0
	if c.Else != nil {
		r.ifClause(ctx, c.Else)
	} else if c.ElseStmts != nil {
		r.stmts(ctx, c.ElseStmts)
	}
}

func (r *Runner) whileClause(ctx context.Context, c *syntax.WhileClause) {
	for !r.stop(ctx) {
		r.withCond(func() { r.stmts(ctx, c.Cond) })
		if r.flow != flowNormal {
			return
		}
		stop := (r.lastExit == 0) == c.Until
		r.lastExit = 0
		if stop || r.loopStmtsBroken(ctx, c.Do) {
			return
		}
	}
}

func (r *Runner) forClause(ctx context.Context, c *syntax.ForClause) {
	switch loop := c.Loop.(type) {
	case *syntax.WordIter:
		items := r.Params
		if loop.InPos != 0 {
			items = r.fields(loop.Items...)
		}
		for _, item := range items {
			r.setVarString(loop.Name.Value, item)
			if r.loopStmtsBroken(ctx, c.Do) {
				return
			}
			if r.stop(ctx) {
				return
			}
		}
	case *syntax.CStyleLoop:
		if loop.Init != nil {
			r.arithm(loop.Init)
		}
		for loop.Cond == nil || r.arithm(loop.Cond) != 0 {
			if r.loopStmtsBroken(ctx, c.Do) {
				return
			}
			if r.stop(ctx) {
				return
			}
			if loop.Post != nil {
				r.arithm(loop.Post)
			}
		}
	}
}

func (r *Runner) caseClause(ctx context.Context, c *syntax.CaseClause) {
	str := r.literal(c.Word)
	for _, item := range c.Items {
		for _, word := range item.Patterns {
			pat := r.pattern(word)
			if matchPattern(pat, str) {
				r.stmts(ctx, item.Stmts)
				return
			}
		}
	}
}

func (r *Runner) callExpr(ctx context.Context, cm *syntax.CallExpr) {
	fields := r.fields(cm.Args...)
	if len(fields) == 0 {
		// A bare assignment list: "foo=bar baz=qux" with no command.
		// Assignments land directly in the current scope.
		for _, as := range cm.Assigns {
			prev := r.lookupVar(as.Name.Value)
			val := r.assignVal(prev, as)
			if !r.setVarString(as.Name.Value, val) {
				r.lastExit = 1
				if !r.interactive {
					r.flow = flowExit
				}
				return
			}
		}
		return
	}

	type restore struct {
		name string
		vr   expand.Variable
	}
	var restores []restore
	for _, as := range cm.Assigns {
		name := as.Name.Value
		prev := r.lookupVar(name)
		val := r.assignVal(prev, as)
		restores = append(restores, restore{name, prev})
		r.setVar(name, expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: val})
	}

	r.call(ctx, fields)

	for _, rst := range restores {
		r.setVar(rst.name, rst.vr)
	}
}

func (r *Runner) call(ctx context.Context, args []string) {
	if r.callHandler != nil {
		var err error
		args, err = r.callHandler(r.handlerCtx(ctx, nil), args)
		if err != nil {
			r.errf("%v\n", err)
			r.lastExit = 1
			return
		}
		if len(args) == 0 {
			return
		}
	}
	name := args[0]
	if body := r.Funcs[name]; body != nil {
		r.callFunc(ctx, name, body, args[1:])
		return
	}
	if IsBuiltin(name) {
		r.lastExit = r.builtin(ctx, name, args[1:])
		return
	}
	r.execCmd(ctx, args)
}

func (r *Runner) callFunc(ctx context.Context, name string, body *syntax.Stmt, args []string) {
	oldParams := r.Params
	oldInFunc := r.inFunc
	oldFlowN := r.flowN
	r.Params = args
	r.inFunc = true

	origEnv := r.writeEnv
	r.writeEnv = &overlayEnviron{parent: origEnv}

	r.stmt(ctx, body)
	if r.flow == flowReturn {
		r.flow = flowNormal
	}

	r.writeEnv = origEnv
	r.Params = oldParams
	r.inFunc = oldInFunc
	r.flowN = oldFlowN
}

func (r *Runner) execCmd(ctx context.Context, args []string) {
	pgidBox := r.pgidBox
	hctx := r.handlerCtx(ctx, pgidBox)
	err := r.execHandler(hctx, args)
	switch e := err.(type) {
	case nil:
		r.lastExit = 0
	case ExitStatus:
		r.lastExit = int(e)
	case errStopped:
		r.lastExit = 0
		r.stopForeground(e.pid, hctx)
	default:
		r.errf("%v\n", err)
		r.lastExit = 1
	}
	r.jobs.updateFromWaits()
}

// stopForeground records a job that was just stopped (e.g. SIGTSTP hit
// the foreground process group) so `fg`/`jobs` can find it afterward.
func (r *Runner) stopForeground(pid int, hctx context.Context) {
	hc := HandlerCtx(hctx)
	pgid := pid
	if hc.PgidBox != nil {
		pgid = *hc.PgidBox
	}
	j := r.jobs.byPgid(pgid)
	if j == nil {
		j = r.jobs.add(pgid, pid, "")
	}
	j.state = jobStopped
	if r.ttyFd >= 0 {
		_ = unix.IoctlSetInt(r.ttyFd, unix.TIOCSPGRP, r.shellPgid)
	}
}

// runTrap runs the callback installed for name (a signal name, EXIT, or
// ERR), reentrancy-guarded and without letting the callback's own exit
// status leak into the command that triggered it.
func (r *Runner) runTrap(ctx context.Context, name string) {
	callback, ok := r.traps[name]
	if !ok || callback == "" || r.inTrap {
		return
	}
	p := syntax.NewParser()
	file, err := p.Parse(strings.NewReader(callback), name+" trap")
	if err != nil {
		r.errf("trap: %v\n", err)
		return
	}
	r.inTrap = true
	oldExit := r.lastExit
	r.stmts(ctx, file.Stmts)
	r.lastExit = oldExit
	r.inTrap = false
}

func (r *Runner) runExitTrap(ctx context.Context) {
	r.runTrap(ctx, "EXIT")
}
