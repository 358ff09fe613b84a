// Copyright (c) 2026, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// zigsh is a POSIX-ish shell built on top of [interp].
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"zigsh.dev/zigsh/internal/lineedit"
	"zigsh.dev/zigsh/interp"
	"zigsh.dev/zigsh/syntax"
)

var (
	command     = pflag.StringP("command", "c", "", "command to be executed")
	interactive = pflag.BoolP("interactive", "i", false, "force interactive mode")
	noRC        = pflag.Bool("norc", false, "skip reading the startup file")
	login       = pflag.BoolP("login", "l", false, "start as a login shell")
	debug       = pflag.Bool("debug", false, "emit debug-level shell diagnostics")

	optErrexit   = pflag.BoolP("errexit", "e", false, "exit on first failing command")
	optNounset   = pflag.BoolP("nounset", "u", false, "error on unset variable expansion")
	optXtrace    = pflag.BoolP("xtrace", "x", false, "print each command before running it")
	optVerbose   = pflag.BoolP("verbose", "v", false, "echo input lines as they're read")
	optNoglob    = pflag.BoolP("noglob", "f", false, "disable pathname expansion")
	optNoclobber = pflag.BoolP("noclobber", "C", false, "refuse to clobber existing files with >")
	optSetO      = pflag.StringArrayP("option", "o", nil, "set a long-named shell option, e.g. -o pipefail")
)

// log is the shell's own operational logger, per SPEC_FULL.md §6.2:
// resource errors, startup diagnostics, and parse failures, never the
// running program's own stdout/stderr.
var log *slog.Logger

func main() {
	os.Exit(main1())
}

// main1 is split out from main so that cmd/zigsh's own test binary can
// register it as a testscript command and exercise the real CLI
// end-to-end, rather than just the library underneath it.
func main1() int {
	pflag.Parse()
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	err := runAll()
	var es interp.ExitStatus
	if errors.As(err, &es) {
		return int(es)
	}
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	return 0
}

func runAll() error {
	args := pflag.Args()
	wantInteractive := *interactive || (*command == "" && len(args) == 0 && term_IsTerminal(os.Stdin))

	opts := []interp.RunnerOption{
		interp.Interactive(wantInteractive),
		interp.StdIO(os.Stdin, os.Stdout, os.Stderr),
		interp.Params(args...),
		interp.ShellOpt("errexit", *optErrexit),
		interp.ShellOpt("nounset", *optNounset),
		interp.ShellOpt("xtrace", *optXtrace),
		interp.ShellOpt("verbose", *optVerbose),
		interp.ShellOpt("noglob", *optNoglob),
		interp.ShellOpt("noclobber", *optNoclobber),
	}
	for _, name := range *optSetO {
		opts = append(opts, interp.ShellOpt(name, true))
	}

	r, err := interp.New(opts...)
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	watchSignals(ctx, r)

	if wantInteractive && !*noRC {
		if env := os.Getenv("ENV"); env != "" {
			runRCFile(ctx, r, env)
		} else if home, err := os.UserHomeDir(); err == nil {
			runRCFile(ctx, r, filepath.Join(home, ".zigshrc"))
		}
	}

	switch {
	case *command != "":
		return run(ctx, r, strings.NewReader(*command), "")
	case wantInteractive:
		return runInteractive(ctx, r)
	case len(args) == 0:
		return run(ctx, r, os.Stdin, "")
	default:
		for _, path := range args {
			if err := runPath(ctx, r, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// term_IsTerminal avoids importing golang.org/x/term just for this one
// check, since unix already gives us an ioctl-based test and is already
// a dependency of interp for job control.
func term_IsTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

func run(ctx context.Context, r *interp.Runner, reader io.Reader, name string) error {
	prog, err := syntax.NewParser().Parse(reader, name)
	if err != nil {
		return err
	}
	r.Reset()
	return r.Run(ctx, prog)
}

func runPath(ctx context.Context, r *interp.Runner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return run(ctx, r, f, path)
}

// runRCFile sources path if present, ignoring a missing file. Errors
// from its contents are reported but don't stop the shell from
// starting, matching how bash treats a broken .bashrc.
func runRCFile(ctx context.Context, r *interp.Runner, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if err := run(ctx, r, f, path); err != nil {
		log.Error(err.Error())
	}
}

// runInteractive drives the read-eval-print loop: it accumulates lines
// from the line editor until the parser reports either a complete
// program or a hard syntax error, printing PS2 while a construct (an
// open quote, heredoc, or compound command) is still unterminated.
func runInteractive(ctx context.Context, r *interp.Runner) error {
	histPath := os.Getenv("HISTFILE")
	if histPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			histPath = filepath.Join(home, ".zigsh_history")
		}
	}
	ed := lineedit.New(os.Stdin, os.Stdout, histPath)
	defer ed.Close()

	ps1, ps2 := os.Getenv("PS1"), os.Getenv("PS2")
	if ps1 == "" {
		ps1 = "$ "
	}
	if ps2 == "" {
		ps2 = "> "
	}
	var pending strings.Builder
	prompt := ps1
	for {
		line, err := ed.ReadLine(prompt)
		switch {
		case errors.Is(err, lineedit.ErrInterrupted):
			pending.Reset()
			prompt = ps1
			continue
		case err == io.EOF:
			if pending.Len() == 0 {
				return nil
			}
			pending.Reset()
			prompt = ps1
			continue
		case err != nil:
			return err
		}
		pending.WriteString(line)
		pending.WriteByte('\n')

		prog, err := syntax.NewParser().Parse(strings.NewReader(pending.String()), "")
		var incomplete syntax.IncompleteError
		if errors.As(err, &incomplete) {
			prompt = ps2
			continue
		}
		pending.Reset()
		prompt = ps1
		if err != nil {
			log.Error(err.Error())
			continue
		}
		if runErr := r.Run(ctx, prog); runErr != nil {
			if _, ok := interp.IsExitStatus(runErr); !ok {
				log.Error(runErr.Error())
			}
		}
		if r.Exited() {
			return nil
		}
	}
}

// watchSignals relays the signals a foreground shell cares about to the
// Runner's async-signal-safe dispatcher. The actual trap execution and
// job reaping happen later, at the Runner's own safe points; this
// goroutine only forwards what the OS delivered.
func watchSignals(ctx context.Context, r *interp.Runner) {
	ch := make(chan os.Signal, 64)
	signal.Notify(ch,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT,
		syscall.SIGCHLD, syscall.SIGTSTP, syscall.SIGUSR1, syscall.SIGUSR2,
		syscall.SIGALRM, syscall.SIGPIPE,
	)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case sig := <-ch:
				if s, ok := sig.(syscall.Signal); ok {
					r.HandleSignal(unix.Signal(s))
				}
			}
		}
	}()
}
