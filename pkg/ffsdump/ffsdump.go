// Copyright 2018 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ffsdump is where the implementation of the ffsdump command lives.
package ffsdump

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/visitors"
)

// DefaultCommand runs when only the image is named.
const DefaultCommand = "json"

// Config is filled from the command line.
type Config struct {
	Options engine.Options
	// Diagnostics writes every diagnostic record to this writer after the
	// image is parsed. May be nil.
	Diagnostics io.Writer
	// Strict fails the run when the parse produced an error record.
	Strict bool
}

// Run parses the image at args[0] and executes the operations that follow.
func Run(cfg Config, args ...string) error {
	if len(args) == 0 {
		return errors.New("at least one argument is required")
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	e := engine.Open(image, cfg.Options)

	if cfg.Diagnostics != nil {
		for _, r := range e.Diagnostics().Records() {
			fmt.Fprintln(cfg.Diagnostics, r)
		}
		counts := Severities(e)
		fmt.Fprintf(cfg.Diagnostics, "%d warnings, %d errors\n",
			counts[layout.SeverityWarning], counts[layout.SeverityError])
	}
	if cfg.Strict {
		if err := e.Diagnostics().Err(); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
	}

	ops := args[1:]
	if len(ops) == 0 {
		ops = []string{DefaultCommand}
	}
	v, err := visitors.ParseCLI(e, ops)
	if err != nil {
		return err
	}

	// Execute the instructions from the command line.
	return visitors.ExecuteCLI(e, v)
}

// Severities counts the diagnostic records of e by severity.
func Severities(e *engine.Engine) map[layout.Severity]int {
	counts := map[layout.Severity]int{}
	for _, r := range e.Diagnostics().Records() {
		counts[r.Severity]++
	}
	return counts
}
