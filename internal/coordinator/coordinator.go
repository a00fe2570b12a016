// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/pegasus-wms/pmc-go/internal/backoff"
	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
	"github.com/pegasus-wms/pmc-go/internal/engine"
	"github.com/pegasus-wms/pmc-go/internal/fdcache"
	"github.com/pegasus-wms/pmc-go/internal/listener"
	"github.com/pegasus-wms/pmc-go/internal/logger"
	"github.com/pegasus-wms/pmc-go/internal/protocol"
	"github.com/pegasus-wms/pmc-go/internal/resource"
)

type phase int

const (
	phaseRegistering phase = iota
	phaseScheduling
	phaseShutdown
)

// workerInfo is what the coordinator tracks per registered worker.
type workerInfo struct {
	source   uint32
	hostName string
	rank     int
}

// Summary is the final run report (spec.md §6's summary record,
// generalized from the cluster CLI's to the coordinator's scope).
type Summary struct {
	OK        bool
	Tasks     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Start     time.Time
}

// Coordinator is the single owned aggregate driving one workflow run:
// the DAG, the engine's ready queue and slot table, every Host, and
// the FD cache (spec.md §9 "Global state" — no process-wide mutable
// singletons).
type Coordinator struct {
	cfg       Config
	transport Transport
	log       logger.Logger

	dag     *dagmodel.DAG
	engine  *engine.Engine
	fdcache *fdcache.Cache
	multi   *listener.Multi

	workers map[uint32]*workerInfo
	phase   phase
	start   time.Time
}

// New builds a Coordinator over dag, ready to Run once workers have
// registered.
func New(cfg Config, dag *dagmodel.DAG, transport Transport, log logger.Logger, listeners ...listener.Listener) (*Coordinator, error) {
	cache, err := fdcache.New(cfg.FDCacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("initializing fd cache: %w", err)
	}

	multi := listener.NewMulti(log, listeners...)
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		log:       log,
		dag:       dag,
		engine:    engine.New(dag, multi),
		fdcache:   cache,
		multi:     multi,
		workers:   make(map[uint32]*workerInfo),
	}, nil
}

// Run drives the coordinator through REGISTERING, SCHEDULING, and
// SHUTDOWN, returning the final summary. A protocol violation or a
// resource-accounting invariant violation aborts the run with a
// non-nil error, per spec.md §7.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	c.start = time.Now()
	c.multi.Notify(listener.WorkflowStart, nil)

	if err := c.register(ctx); err != nil {
		return c.abort(err)
	}

	c.engine.CheckFeasibility()

	c.phase = phaseScheduling
	if err := c.schedule(ctx); err != nil {
		return c.abort(err)
	}

	return c.shutdown(ctx)
}

// register implements the REGISTERING phase: exactly NumWorkers
// Registration messages are consumed, Hosts and Slots are built, and
// each worker is sent its HostRank.
func (c *Coordinator) register(ctx context.Context) error {
	hostRanks := make(map[string]int)

	for len(c.workers) < c.cfg.NumWorkers {
		frame, err := c.transport.Recv(ctx)
		if err != nil {
			return fmt.Errorf("receiving registration: %w", err)
		}
		reg, ok := frame.Message.(protocol.Registration)
		if !ok {
			return fmt.Errorf("%w: expected Registration during REGISTERING, got %s", protocol.ErrProtocolViolation, frame.Message.Tag())
		}

		if _, exists := c.engine.Host(reg.Hostname); !exists {
			h := resource.NewHost(reg.Hostname, reg.Memory, reg.Threads, reg.Cores, reg.Sockets)
			c.engine.RegisterHost(h)
		}

		rank := hostRanks[reg.Hostname]
		hostRanks[reg.Hostname] = rank + 1

		slot, err := c.engine.RegisterSlot(reg.Hostname, rank)
		if err != nil {
			return err
		}
		_ = slot

		c.workers[frame.Source] = &workerInfo{source: frame.Source, hostName: reg.Hostname, rank: rank}

		if err := c.transport.Send(ctx, frame.Source, protocol.HostRank{Rank: uint32(rank)}); err != nil {
			return fmt.Errorf("sending hostrank: %w", err)
		}
	}
	return nil
}

// schedule implements the SCHEDULING phase loop described in spec.md
// §4.4, alternating dispatch with blocking receive of Result/IOData,
// until the workflow has nothing left to do or wall-time expires.
func (c *Coordinator) schedule(ctx context.Context) error {
	wallTimeExpired := false

	for {
		if c.cfg.MaxWallTime > 0 && time.Since(c.start) > c.cfg.MaxWallTime {
			wallTimeExpired = true
		}

		if !wallTimeExpired {
			dispatches, err := c.engine.ScheduleTasks()
			if err != nil {
				return err
			}
			for _, d := range dispatches {
				if err := c.send(ctx, d); err != nil {
					return err
				}
			}
		}

		if wallTimeExpired && c.engine.RunningCount() == 0 {
			// Checked ahead of IsFinished: once the deadline has passed,
			// the run is reported as failed even if the last in-flight
			// task happens to drain cleanly in this same iteration
			// (spec.md's wall-time expiry is unconditional, not
			// contingent on task outcomes).
			return errWallTimeExceeded
		}
		if c.engine.IsFinished() {
			return nil
		}

		frame, err := c.recvResult(ctx)
		if err != nil {
			return fmt.Errorf("receiving result: %w", err)
		}

		switch m := frame.Message.(type) {
		case protocol.Result:
			if err := c.handleResult(m); err != nil {
				return err
			}
		case protocol.IOData:
			c.handleIOData(m)
		default:
			return fmt.Errorf("%w: unexpected message %s during SCHEDULING", protocol.ErrProtocolViolation, m.Tag())
		}
	}
}

var errWallTimeExceeded = errors.New("coordinator: max wall time exceeded")

// recvResult wraps the SCHEDULING phase's blocking receive in a
// bounded retry: a transient transport hiccup (anything other than a
// protocol violation) is retried with backoff, up to five retries,
// instead of immediately aborting the run.
func (c *Coordinator) recvResult(ctx context.Context) (Frame, error) {
	var frame Frame
	op := func(ctx context.Context) error {
		f, err := c.transport.Recv(ctx)
		if err != nil {
			return err
		}
		frame = f
		return nil
	}

	policy := &backoff.ExponentialBackoffPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxRetries:      5,
	}
	err := backoff.Retry(ctx, op, policy, isRetriableRecvErr)
	return frame, err
}

func isRetriableRecvErr(err error) bool {
	return !errors.Is(err, protocol.ErrProtocolViolation)
}

func (c *Coordinator) send(ctx context.Context, d engine.Dispatch) error {
	w := c.workerForSlot(d.Slot)
	if w == nil {
		return fmt.Errorf("%w: no worker registered for dispatched slot", protocol.ErrProtocolViolation)
	}
	bindings := make([]uint16, len(d.Binding))
	for i, idx := range d.Binding {
		bindings[i] = uint16(idx)
	}
	cmd := protocol.Command{
		Name:         d.Task.Name,
		Args:         d.Task.Argv,
		ID:           d.Task.PegasusID,
		Memory:       d.Task.Memory,
		CPUs:         uint32(d.Task.CPUs),
		Bindings:     bindings,
		PipeForwards: d.Task.PipeForwards,
		FileForwards: d.Task.FileForwards,
	}
	return c.transport.Send(ctx, w.source, cmd)
}

func (c *Coordinator) workerForSlot(slot *resource.Slot) *workerInfo {
	for _, w := range c.workers {
		if w.hostName == slot.Host.Name && w.rank == slot.Rank {
			return w
		}
	}
	return nil
}

func (c *Coordinator) handleResult(m protocol.Result) error {
	success := isSuccess(m.Exit)
	rescueErr, err := c.engine.CompleteTask(m.Name, success)
	if err != nil {
		return err
	}
	if rescueErr != nil {
		c.log.Error("failed to append rescue record", "task", m.Name, "error", rescueErr)
	}
	return nil
}

func isSuccess(exit int32) bool { return exit == 0 }

func (c *Coordinator) handleIOData(m protocol.IOData) {
	path := filepath.Join(c.cfg.OutputDir, m.Task, m.Filename)
	if _, err := c.fdcache.Write(path, m.Data); err != nil {
		c.log.Error("io data write failed", "task", m.Task, "file", m.Filename, "error", err)
	}
}

// shutdown broadcasts Shutdown to every worker, closes the transport,
// writes the rescue file, and returns the final summary.
func (c *Coordinator) shutdown(ctx context.Context) (Summary, error) {
	c.phase = phaseShutdown

	var teardown *multierror.Error
	if err := c.transport.Broadcast(ctx, protocol.Shutdown{}); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("broadcasting shutdown: %w", err))
	}
	for w := range c.workers {
		if err := c.transport.CloseWorker(w); err != nil {
			teardown = multierror.Append(teardown, fmt.Errorf("closing worker %d: %w", w, err))
		}
	}
	if err := c.transport.Close(); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("closing transport: %w", err))
	}
	if err := c.fdcache.Close(); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("closing fd cache: %w", err))
	}
	if err := c.dag.Close(); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("closing dag: %w", err))
	}
	if c.cfg.RescuePath != "" {
		if err := c.dag.WriteRescue(c.cfg.RescuePath); err != nil {
			teardown = multierror.Append(teardown, fmt.Errorf("writing final rescue snapshot: %w", err))
		}
	}
	if teardown.ErrorOrNil() != nil {
		c.log.Error("coordinator teardown encountered errors", "error", teardown)
	}

	summary := c.summarize()
	if summary.OK {
		c.multi.Notify(listener.WorkflowSuccess, nil)
	} else {
		c.multi.Notify(listener.WorkflowFailure, nil)
	}
	return summary, nil
}

func (c *Coordinator) summarize() Summary {
	tasks := c.dag.Tasks()
	s := Summary{Start: c.start, Duration: time.Since(c.start), Tasks: len(tasks), OK: !c.engine.Failed()}
	for _, t := range tasks {
		switch t.Status {
		case dagmodel.StatusSucceeded:
			s.Succeeded++
		case dagmodel.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// abort handles a fatal error during REGISTERING or SCHEDULING: it
// broadcasts Shutdown on a best-effort basis and returns a failed
// summary alongside the error (spec.md §7).
func (c *Coordinator) abort(cause error) (Summary, error) {
	c.log.Error("coordinator aborting", "error", cause)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.transport.Broadcast(ctx, protocol.Shutdown{})
	_ = c.transport.Close()
	_ = c.fdcache.Close()
	_ = c.dag.Close()

	if c.cfg.RescuePath != "" {
		if err := c.dag.WriteRescue(c.cfg.RescuePath); err != nil {
			c.log.Error("writing rescue snapshot during abort failed", "error", err)
		}
	}

	c.multi.Notify(listener.WorkflowFailure, nil)
	summary := c.summarize()
	summary.OK = false
	return summary, cause
}
