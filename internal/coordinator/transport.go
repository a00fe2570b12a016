// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package coordinator implements the single-instance event loop that
// registers workers, schedules DAG tasks onto them, and drives a run
// to completion or rescue. The fabric that actually carries frames
// between coordinator and worker processes is an out-of-scope
// collaborator (spec.md §1); Transport is its interface at this
// component's boundary.
package coordinator

import (
	"context"

	"github.com/pegasus-wms/pmc-go/internal/protocol"
)

// Frame pairs a decoded message with the worker id that sent it.
type Frame struct {
	Message protocol.Message
	Source  uint32
}

// Transport is the reliable, ordered, tagged point-to-point fabric the
// coordinator assumes (spec.md §1). Messages from a single worker are
// consumed in send order (spec.md §5); Recv need not — and does not —
// guarantee ordering across distinct workers.
type Transport interface {
	// Recv blocks until the next frame arrives from any worker, or ctx
	// is done.
	Recv(ctx context.Context) (Frame, error)
	// Send delivers msg to the worker identified by dest.
	Send(ctx context.Context, dest uint32, msg protocol.Message) error
	// Broadcast delivers msg to every known worker.
	Broadcast(ctx context.Context, msg protocol.Message) error
	// CloseWorker closes the channel to a single worker, releasing it
	// from its receive loop.
	CloseWorker(dest uint32) error
	// Close tears down the transport entirely.
	Close() error
}
