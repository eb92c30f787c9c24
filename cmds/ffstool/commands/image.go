// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/linuxboot/ffsengine/pkg/engine"
	"github.com/linuxboot/ffsengine/pkg/layout"
	"github.com/linuxboot/ffsengine/pkg/log"
)

// Image holds the options of every verb that loads an image.
type Image struct {
	ImagePath  string `short:"f" long:"image" description:"path to the firmware image" required:"true"`
	MaxDepth   int    `long:"max-depth" description:"nesting limit of the parse"`
	MaxNodes   int    `long:"max-nodes" description:"node limit of the parse"`
	XZPath     string `long:"xz" description:"xz command used for LZMA encoding"`
	BrotliPath string `long:"brotli" description:"brotli command used for Brotli sections"`
	Verbose    bool   `short:"v" long:"verbose" description:"log diagnostics and edits"`
}

// Options converts the command line options to session options.
func (img Image) Options() engine.Options {
	var opts engine.Options
	opts.Parser.MaxDepth = img.MaxDepth
	opts.Parser.MaxNodes = img.MaxNodes
	opts.Compression.XZPath = img.XZPath
	opts.Compression.BrotliPath = img.BrotliPath
	if img.Verbose {
		opts.Logger = log.DefaultLogger
	}
	return opts
}

// Open reads and parses the image.
func (img Image) Open() (*engine.Engine, error) {
	buf, err := os.ReadFile(img.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read the firmware image file '%s': %w", img.ImagePath, err)
	}
	return engine.Open(buf, img.Options()), nil
}

// Output holds the options of every verb that edits an image.
type Output struct {
	OutputPath string `short:"o" long:"output" description:"path of the edited image, defaults to the input image"`
}

// Save writes the reconstructed image of e to the output path, or to the
// input image when no output path was given.
func (o Output) Save(e *engine.Engine, img Image) error {
	path := o.OutputPath
	if path == "" {
		path = img.ImagePath
	}
	buf, err := e.ReconstructImage()
	if err != nil {
		return fmt.Errorf("unable to reconstruct the image: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("unable to write '%s': %w", path, err)
	}
	return nil
}

// ParsePaths parses node paths given as arguments. The paths are returned
// last first in pre-order, so editing them in turn keeps the remaining
// ones valid.
func ParsePaths(args []string) ([]layout.Path, error) {
	if len(args) == 0 {
		return nil, ErrArgs{Err: fmt.Errorf("expected at least one node path")}
	}
	paths := make([]layout.Path, 0, len(args))
	for _, arg := range args {
		p, err := layout.ParsePath(arg)
		if err != nil {
			return nil, ErrArgs{Err: err}
		}
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[j].Before(paths[i])
	})
	return paths, nil
}

// PrintDiagnostics logs the warning and error records of e.
func PrintDiagnostics(e *engine.Engine) {
	for _, r := range e.Diagnostics().Records() {
		switch r.Severity {
		case layout.SeverityWarning:
			log.Warnf("%v: %s", r.Path, r.Text)
		case layout.SeverityError:
			log.Errorf("%v: %s", r.Path, r.Text)
		}
	}
}
