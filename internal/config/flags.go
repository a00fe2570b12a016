// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag describes one coordinator command-line flag and its binding
// into viper under the same key.
type Flag struct {
	Name      string
	Shorthand string
	Default   any
	Usage     string
}

// RegisterFlags adds every flag in flags to cmd and binds each into v
// under its Name, so viper.Unmarshal sees flag values with the usual
// flag > config-file > default precedence.
func RegisterFlags(cmd *cobra.Command, v *viper.Viper, flags []Flag) error {
	for _, f := range flags {
		switch def := f.Default.(type) {
		case string:
			cmd.Flags().StringP(f.Name, f.Shorthand, def, f.Usage)
		case int:
			cmd.Flags().IntP(f.Name, f.Shorthand, def, f.Usage)
		case bool:
			cmd.Flags().BoolP(f.Name, f.Shorthand, def, f.Usage)
		default:
			return fmt.Errorf("config: unsupported flag default type for %q", f.Name)
		}
		if err := v.BindPFlag(f.Name, cmd.Flags().Lookup(f.Name)); err != nil {
			return fmt.Errorf("binding flag %q: %w", f.Name, err)
		}
	}
	return nil
}
