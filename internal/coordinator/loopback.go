// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package coordinator

import (
	"context"
	"fmt"

	"github.com/pegasus-wms/pmc-go/internal/hostinfo"
	"github.com/pegasus-wms/pmc-go/internal/protocol"
)

// LoopbackTransport is a single-process Transport that registers n
// simulated workers on local host info and answers every Command with
// exit code 0. It exists for the CLI's --dry-run path and for smoke
// tests: the real worker fabric (spec.md §1's out-of-scope
// collaborator) runs actual commands over a real network and is never
// implemented here.
type LoopbackTransport struct {
	inbound  chan Frame
	outbound map[uint32]chan protocol.Message
}

// NewLoopbackTransport builds a LoopbackTransport pre-seeded with n
// Registration frames using this process's own detected resources.
func NewLoopbackTransport(n int) (*LoopbackTransport, error) {
	info, err := hostinfo.Discover()
	if err != nil {
		return nil, fmt.Errorf("discovering local host info for loopback transport: %w", err)
	}

	t := &LoopbackTransport{
		inbound:  make(chan Frame, n*4+4),
		outbound: make(map[uint32]chan protocol.Message, n),
	}
	for i := 0; i < n; i++ {
		id := uint32(i + 1)
		t.outbound[id] = make(chan protocol.Message, 4)
		t.inbound <- Frame{Source: id, Message: protocol.Registration{
			Hostname: "localhost",
			Memory:   info.MemoryMiB,
			Threads:  info.Threads,
			Cores:    info.Cores,
			Sockets:  info.Sockets,
		}}
		go t.answer(id)
	}
	return t, nil
}

func (t *LoopbackTransport) answer(id uint32) {
	for msg := range t.outbound[id] {
		switch m := msg.(type) {
		case protocol.Command:
			t.inbound <- Frame{Source: id, Message: protocol.Result{Name: m.Name, Exit: 0, Runtime: 0}}
		case protocol.Shutdown:
			return
		}
	}
}

func (t *LoopbackTransport) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (t *LoopbackTransport) Send(ctx context.Context, dest uint32, msg protocol.Message) error {
	ch, ok := t.outbound[dest]
	if !ok {
		return fmt.Errorf("%w: unknown loopback worker %d", protocol.ErrProtocolViolation, dest)
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LoopbackTransport) Broadcast(ctx context.Context, msg protocol.Message) error {
	for dest := range t.outbound {
		if err := t.Send(ctx, dest, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *LoopbackTransport) CloseWorker(dest uint32) error {
	if ch, ok := t.outbound[dest]; ok {
		close(ch)
		delete(t.outbound, dest)
	}
	return nil
}

func (t *LoopbackTransport) Close() error { return nil }
