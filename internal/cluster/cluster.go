// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cluster implements the standalone N-way parallel command
// executor: it reads a list of command lines from an input stream and
// runs them, up to a configured number at a time, independently of any
// DAG or coordinator.
package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/pegasus-wms/pmc-go/internal/logger"
)

// maxExitCode bounds the success-code set: exit codes are a single
// byte on every platform this runs on, so codes outside 0..255 are
// rejected up front rather than sized to accommodate them.
const maxExitCode = 256

// Mode controls how a run's overall exit status is derived from its
// tasks' individual outcomes.
type Mode int

const (
	// ModeCollect runs every task regardless of earlier failures and
	// reports failure overall if any task failed.
	ModeCollect Mode = iota
	// ModeOld runs every task and always reports success overall.
	ModeOld
	// ModeFailHard stops launching new tasks as soon as one fails, and
	// reports failure overall if that happened.
	ModeFailHard
)

// Options configures a Run.
type Options struct {
	// Cpus is the maximum number of tasks running at once. Values < 1
	// are treated as 1.
	Cpus int
	// Mode selects collect/old/fail-hard semantics.
	Mode Mode
	// SuccessCodes marks additional non-zero exit codes as successful,
	// alongside 0 which is always success. Codes outside 0..255 are
	// rejected by AddSuccessCode.
	SuccessCodes [maxExitCode]bool
	// Env is the environment passed to every launched task, including
	// setup and cleanup; nil means the child inherits this process's
	// environment (exec.Cmd's default).
	Env []string
	// SetupCmd and CleanupCmd, if non-empty, are run once before any
	// task and once after every task has finished, unconditionally of
	// task outcome.
	SetupCmd   string
	CleanupCmd string
	// ProgressWriter, if non-nil, receives a progress record for the
	// run's start and for every task's completion.
	ProgressWriter io.Writer
	// Debug turns on verbose diagnostic logging.
	Debug bool
}

// AddSuccessCode marks code as an additional success exit code. It
// returns false, and leaves the set unchanged, when code falls outside
// 1..255 (0 is always a success and is not stored).
func (o *Options) AddSuccessCode(code int) bool {
	if code <= 0 || code >= maxExitCode {
		return false
	}
	o.SuccessCodes[code] = true
	return true
}

func (o *Options) isSuccess(code int) bool {
	if code == 0 {
		return true
	}
	if code < 0 || code >= maxExitCode {
		return false
	}
	return o.SuccessCodes[code]
}

func (o *Options) cpus() int {
	if o.Cpus < 1 {
		return 1
	}
	return o.Cpus
}

// TaskOutcome is one launched task's result, emitted for reporting.
type TaskOutcome struct {
	Count    uint64
	LineNo   uint64
	Argv     []string
	Start    time.Time
	Duration time.Duration
	ExitCode int
	Signaled bool
	Failure  bool
}

// Summary is the run's final report (spec.md's cluster-summary line).
type Summary struct {
	Stat      string // "ok" or "fail"
	Lines     uint64
	Tasks     uint64
	Succeeded uint64
	Failed    uint64
	Extra     uint64
	Start     time.Time
	Duration  time.Duration
}

// Run reads command lines from in and executes them under opts,
// writing one per-task summary line to status as each finishes (and, if
// configured, progress records to opts.ProgressWriter), returning the
// final Summary. Run itself never returns an error for a task failure;
// failure is reported through the Summary's Stat and Failed fields, per
// spec.md's exit-code contract for the CLI layer.
func Run(ctx context.Context, in io.Reader, status io.Writer, opts Options, log logger.Logger) (Summary, error) {
	start := time.Now()

	var extra uint64
	if opts.SetupCmd != "" {
		runIndependentTask(ctx, opts.SetupCmd, opts.Env, "setup", &extra, log)
	}

	if opts.ProgressWriter != nil {
		writeProgressStart(opts.ProgressWriter, start)
	}

	r := &runner{
		opts:   opts,
		status: status,
		log:    log,
		sem:    make(chan struct{}, opts.cpus()),
	}

	if err := r.drain(ctx, in); err != nil {
		return Summary{}, err
	}
	r.wg.Wait()

	r.mu.Lock()
	statusErr := r.statusErr
	r.mu.Unlock()
	if statusErr != nil {
		log.Error("writing cluster status output failed", "error", statusErr)
	}

	if opts.CleanupCmd != "" {
		runIndependentTask(ctx, opts.CleanupCmd, opts.Env, "cleanup", &extra, log)
	}

	failed := atomic.LoadUint64(&r.failed)
	total := atomic.LoadUint64(&r.total)
	tripped := r.failHardTripped.Load()

	stat := "ok"
	switch {
	case opts.Mode == ModeOld:
		// always ok
	case opts.Mode == ModeFailHard:
		if tripped {
			stat = "fail"
		}
	default:
		if failed > 0 {
			stat = "fail"
		}
	}

	return Summary{
		Stat:      stat,
		Lines:     atomic.LoadUint64(&r.lineno),
		Tasks:     total,
		Succeeded: total - failed,
		Failed:    failed,
		Extra:     extra,
		Start:     start,
		Duration:  time.Since(start),
	}, nil
}

type runner struct {
	opts   Options
	status io.Writer
	log    logger.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	lineno uint64
	total  uint64
	failed uint64

	failHardTripped atomic.Bool

	mu        sync.Mutex
	statusErr error
}

// drain is the line-reading loop: it reads one logical command line at
// a time (honoring comment/blank skipping and CRLF/bare-LF
// termination), parses it, and launches it in a goroutine once a slot
// is free. In fail-hard mode, it stops reading as soon as an
// already-finished task has failed; tasks already launched are allowed
// to run to completion.
func (r *runner) drain(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReaderSize(in, 64*1024)

	for {
		if r.opts.Mode == ModeFailHard && r.failHardTripped.Load() {
			break
		}

		line, err := readLogicalLine(reader)
		if err == io.EOF && line == "" {
			break
		}
		atomic.AddUint64(&r.lineno, 1)
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading command list: %w", err)
		}

		if skippable(line) {
			if err == io.EOF {
				break
			}
			continue
		}

		argv, parseErr := shell.Fields(ctx, line, nil)
		if parseErr != nil || len(argv) == 0 {
			r.log.Error("unparsable command line, ignoring", "line", atomic.LoadUint64(&r.lineno), "error", parseErr)
			if err == io.EOF {
				break
			}
			continue
		}

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		// Re-check after acquiring the slot: a task that just finished
		// may have tripped the flag and released this very slot between
		// the top-of-loop check and here, and fail-hard must not launch
		// anything past the first failure.
		if r.opts.Mode == ModeFailHard && r.failHardTripped.Load() {
			<-r.sem
			break
		}

		lineno := atomic.LoadUint64(&r.lineno)
		count := atomic.AddUint64(&r.total, 1)
		r.wg.Add(1)
		go r.launch(ctx, count, lineno, argv)

		if err == io.EOF {
			break
		}
	}
	return nil
}

func (r *runner) launch(ctx context.Context, count, lineno uint64, argv []string) {
	defer r.wg.Done()
	defer func() { <-r.sem }()

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if r.opts.Env != nil {
		cmd.Env = r.opts.Env
	}
	err := cmd.Run()
	duration := time.Since(startTime)

	exitCode, signaled := exitCodeOf(err)
	failure := err != nil && !r.opts.isSuccess(exitCode)

	if failure {
		atomic.AddUint64(&r.failed, 1)
		if r.opts.Mode == ModeFailHard {
			r.failHardTripped.Store(true)
		}
	}

	outcome := TaskOutcome{
		Count: count, LineNo: lineno, Argv: argv,
		Start: startTime, Duration: duration,
		ExitCode: exitCode, Signaled: signaled, Failure: failure,
	}
	r.report(outcome)
}

func (r *runner) report(o TaskOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != nil {
		app := o.Argv[0]
		_, err := fmt.Fprintf(r.status,
			"[cluster-task id=%d, start=%q, duration=%.3f, status=%d, line=%d, app=%q]\n",
			o.Count, o.Start.UTC().Format(time.RFC3339Nano), o.Duration.Seconds(), o.ExitCode, o.LineNo, app)
		if err != nil {
			r.statusErr = err
		}
	}
	if r.opts.ProgressWriter != nil {
		writeProgressTask(r.opts.ProgressWriter, o)
	}
}

// exitCodeOf extracts the child's exit status from cmd.Run()'s error,
// per the teacher's convention of unwrapping *exec.ExitError rather
// than inspecting a raw wait status.
func exitCodeOf(err error) (code int, signaled bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
		return code, code < 0
	}
	// launch error (e.g. executable not found): report as a generic
	// failure code distinguishable from any real exit status.
	return -1, false
}

// readLogicalLine reads one newline-terminated record, stripping any
// trailing CR/LF. io.EOF is returned alongside the final partial line,
// if the input does not end in a newline.
func readLogicalLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func skippable(line string) bool {
	if line == "" {
		return true
	}
	return strings.HasPrefix(line, "#")
}

func writeProgressStart(w io.Writer, start time.Time) {
	fmt.Fprintf(w, "ts=%.6f, rt=0.000, status=-1\n", float64(start.UnixNano())/1e9)
}

func writeProgressTask(w io.Writer, o TaskOutcome) {
	fmt.Fprintf(w, "ts=%.6f, rt=%.3f, status=%d, line=%d, app=%q\n",
		float64(o.Start.UnixNano())/1e9, o.Duration.Seconds(), o.ExitCode, o.LineNo, o.Argv[0])
}

// runIndependentTask runs cmd (parsed with the same shell-field rules
// as task lines) to completion, ignoring its exit status beyond
// logging a non-zero one; used for the unconditional setup/cleanup
// hooks, which never affect the run's overall outcome.
func runIndependentTask(ctx context.Context, cmdline string, env []string, label string, extra *uint64, log logger.Logger) {
	argv, err := shell.Fields(ctx, cmdline, nil)
	if err != nil || len(argv) == 0 {
		log.Error("unparsable independent task, ignoring", "task", label, "error", err)
		return
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}
	if err := cmd.Run(); err != nil {
		log.Error("independent task returned non-zero", "task", label, "error", err)
	}
	atomic.AddUint64(extra, 1)
}
