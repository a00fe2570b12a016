// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package listener

import (
	"fmt"

	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
	"github.com/pegasus-wms/pmc-go/internal/logger"
)

// Multi fans an event out to every registered listener in order,
// recovering a panicking listener and logging (rather than
// propagating) any listener error.
type Multi struct {
	listeners []Listener
	log       logger.Logger
}

// NewMulti builds a Multi over the given listeners, notified in the
// order given.
func NewMulti(log logger.Logger, listeners ...Listener) *Multi {
	return &Multi{listeners: listeners, log: log}
}

// Notify delivers event to every listener, in registration order.
func (m *Multi) Notify(event Event, task *dagmodel.Task) {
	for _, l := range m.listeners {
		m.notifyOne(l, event, task)
	}
}

func (m *Multi) notifyOne(l Listener, event Event, task *dagmodel.Task) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("workflow event listener panicked", "event", event.String(), "panic", fmt.Sprint(r))
		}
	}()
	if err := l.OnEvent(event, task); err != nil {
		m.log.Error("workflow event listener failed", "event", event.String(), "error", err)
	}
}
