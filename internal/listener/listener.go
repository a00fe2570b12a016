// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package listener implements the workflow-event consumers the
// coordinator notifies as tasks move through their lifecycle.
package listener

import (
	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
)

// Event identifies a point in the workflow lifecycle a listener may
// observe.
type Event int

const (
	WorkflowStart Event = iota
	WorkflowSuccess
	WorkflowFailure
	TaskQueued
	TaskSubmit
	TaskSuccess
	TaskFailure
)

func (e Event) String() string {
	switch e {
	case WorkflowStart:
		return "WORKFLOW_START"
	case WorkflowSuccess:
		return "WORKFLOW_SUCCESS"
	case WorkflowFailure:
		return "WORKFLOW_FAILURE"
	case TaskQueued:
		return "TASK_QUEUED"
	case TaskSubmit:
		return "TASK_SUBMIT"
	case TaskSuccess:
		return "TASK_SUCCESS"
	case TaskFailure:
		return "TASK_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Listener observes workflow events. A listener is notified
// synchronously, in registration order; a listener failure (it may
// return an error or panic) is logged by Multi and never aborts the
// coordinator.
type Listener interface {
	OnEvent(event Event, task *dagmodel.Task) error
}
