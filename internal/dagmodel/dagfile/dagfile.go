// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dagfile is the minimal on-disk loader the coordinator CLI
// uses to get from a file path to a dagmodel.DAG. The logical records
// it yields are exactly dagmodel.TaskRecord/Edge (spec.md's "lexical
// form delegated to the parser collaborator" note: this package is
// that collaborator, kept intentionally thin — encoding/json rather
// than a hand-rolled textual grammar).
package dagfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
)

// document is the on-disk shape: a flat task list and an edge list,
// mirroring dagmodel.TaskRecord/Edge field-for-field.
type document struct {
	Tasks []dagmodel.TaskRecord `json:"tasks"`
	Edges []dagmodel.Edge       `json:"edges"`
}

// Load reads a DAG document from path and builds a dagmodel.DAG from
// it, replaying rescuePath if non-empty.
func Load(path string, maxRetries int, rescuePath string) (*dagmodel.DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dag file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing dag file %s: %w", path, err)
	}

	dag, err := dagmodel.Load(doc.Tasks, doc.Edges, dagmodel.LoadOptions{
		MaxRetries: maxRetries,
		RescuePath: rescuePath,
	})
	if err != nil {
		return nil, fmt.Errorf("loading dag from %s: %w", path, err)
	}
	return dag, nil
}
